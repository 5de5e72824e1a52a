// Command coffre is the front-end to the coffred vault daemon. It resolves
// configuration, supervises the daemon when one is not already running, and
// exposes the session over subcommands.
package main
