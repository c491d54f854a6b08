// Package config provides centralized configuration for the panel pipeline.
// It resolves the sample window, firm filter, variable lists, credentials and
// output layout that every stage receives by pointer.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file (config.yaml, configs/config.yaml or PANEL_CONFIG_FILE)
//	3. Default values (lowest priority)
//
// A .env file in the working directory is loaded before anything else.
//
// # Environment Variables
//
// Variables follow the pattern PANEL_<SECTION>_<FIELD>:
//
//	PANEL_PIPELINE_START_DATE=1990-01-01
//	PANEL_PIPELINE_REFRESH=true
//	PANEL_PIPELINE_SIC_FILTER=6798,6512
//	PANEL_LOGGING_LEVEL=debug
//
// The WRDS credential is read from the bare WRDS_USERNAME variable
// (PANEL_WRDS_WRDS_USERNAME also works).
//
// # Variable Lists
//
// CompustatVars holds base names. AddQuarterlySuffix maps them onto the
// quarterly file and AnnualCompatibleVars strips quarterly-only fields.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.RequireCredentials(); err != nil {
//	    log.Fatal(err)
//	}
package config
