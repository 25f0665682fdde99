/*
Package config loads the cascade server's YAML configuration.

Defaults cover a single-node deployment; a config file overrides them
and CLI flags override the file. Validation rejects configurations the
server cannot run with before anything is opened.

# Example

	listen_addr: ":8018"
	data_dir: /var/lib/cascade
	base_path: /_ah/pipeline
	queue_workers: 8
	max_attempts: 3
	backoff_seconds: 15
	backoff_factor: 2
*/
package config
