// Package config loads keybind configuration.
//
// # Configuration Sources
//
// Configuration is assembled from the following sources, later sources
// overriding earlier ones:
//
//	1. Default() values
//	2. A YAML file named by KEYBIND_CONFIG_FILE, or config.yaml /
//	   configs/config.yaml when present
//	3. Environment variables
//
// # Environment Variables
//
// Variables follow the pattern KEYBIND_<SECTION>_<FIELD>:
//
//	KEYBIND_SERVER_PORT=8080
//	KEYBIND_STORE_BACKEND=sheets
//	KEYBIND_SHEETS_SPREADSHEET_ID=1Xsi...
//	KEYBIND_SQL_DSN=postgres://keybind@localhost/keybind?sslmode=disable
//
// envconfig also falls back to the bare tag name, so PORT sets the server
// port and GOOGLE_SERVICE_ACCOUNT_KEY supplies the Sheets service-account
// JSON when no prefixed variable is set.
//
// # Store Backends
//
//	memory  in-process map, optionally seeded from Store.SeedKeys
//	sheets  Google Sheets spreadsheet
//	xlsx    local workbook file
//	sql     PostgreSQL or SQLite through gorm
//	redis   Redis hashes
package config
