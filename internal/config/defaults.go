package config

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.BaseDir == "" {
		cfg.Storage.BaseDir = "/usr/local/var/chishiki/knowledge_base"
	}
	if cfg.KB.ChunkSize == 0 {
		cfg.KB.ChunkSize = 500
	}
	if cfg.KB.ChunkOverlap == 0 {
		cfg.KB.ChunkOverlap = 50
	}
	if cfg.KB.TopK == 0 {
		cfg.KB.TopK = 3
	}
	if cfg.KB.MaxChars == 0 {
		cfg.KB.MaxChars = 2000
	}
	if cfg.Watch.DebounceMS == 0 {
		cfg.Watch.DebounceMS = 400
	}
}
