// Command decisioncore is a runnable proof that the whole stack wires
// together: it loads a config file, spawns a Coordinator, registers the
// demo host, builds tree templates, and runs the tick loop. It plays the
// role cmd/teraglest/main.go and the other cmd/*/main.go demo binaries
// play for the teacher, just fronted by github.com/spf13/cobra rather
// than a hand-rolled flag.Parse loop.
package main

func main() {
	Execute()
}
