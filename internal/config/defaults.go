package config

import "github.com/spf13/viper"

func SetDefaults(v *viper.Viper) {
	v.SetDefault("pipeline.name", "arthur_health_master_etl")
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.unit_timeout", "30m")
	v.SetDefault("pipeline.extraction_source", "synapse_etl")

	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.host", "")
	v.SetDefault("warehouse.port", "5432")
	v.SetDefault("warehouse.user", "postgres")
	v.SetDefault("warehouse.password", "")
	v.SetDefault("warehouse.name", "healthcare")
	v.SetDefault("warehouse.schema", "healthcare_fhir")
	v.SetDefault("warehouse.sslmode", "disable")

	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.user", "neo4j")
	v.SetDefault("graph.password", "")
	v.SetDefault("graph.database", "")
	v.SetDefault("graph.timeout_seconds", 10)
	v.SetDefault("graph.max_pool_size", 50)

	v.SetDefault("embedding.endpoint", "")
	v.SetDefault("embedding.deployment", "text-embedding-ada-002")
	v.SetDefault("embedding.api_version", "2023-05-15")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.max_chars", 8000)
	v.SetDefault("embedding.batch_size", 128)
	v.SetDefault("embedding.timeout_seconds", 30)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ledger.dsn", "")
}
