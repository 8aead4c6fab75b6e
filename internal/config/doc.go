// Package config loads the optional epdlog TOML file describing how the panel
// is wired.
//
// The file lives at ~/.config/epdlog/config.toml unless a path is given. A
// missing file is not an error: the built-in wiring of the Waveshare 2.13"
// HAT is used. Every field is optional and blank values keep the default.
//
//	log_level = "debug"
//
//	[panel]
//	dc_pin = "GPIO25"
//	cs_pin = "GPIO8"
//	rst_pin = "GPIO17"
//	busy_pin = "GPIO24"
//	spi_port = ""          # first port found by spireg
//	spi_frequency = "1MHz"
//	spi_mode = 0
//	reset_hold = "20ms"
//	reset_delay = "2ms"
//	busy_poll = "10ms"
//	refresh_timeout = "10s"
package config
