// Command recnav browses and edits the tables of a YAML schema through
// navigational cursors.
package main

import "github.com/mesh-intelligence/recnav/internal/cli"

func main() {
	cli.Execute()
}
