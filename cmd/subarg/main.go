// Command subarg orchestrates subdomain discovery tools from the command line
// or behind an HTTP API.
package main

func main() {
	Execute()
}
