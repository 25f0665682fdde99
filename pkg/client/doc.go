/*
Package client wraps the Cascade query API for CLI and programmatic
usage: listing root pipelines, dumping a workflow's status tree and
enumerating registered stage classes over HTTP.

# Usage

	c := client.NewClient("127.0.0.1:8018")
	tree, err := c.Tree(ctx, rootID)

# See Also

  - pkg/api for the served endpoints
  - cmd/cascade for the status subcommands built on this client
*/
package client
