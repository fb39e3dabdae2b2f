// Command api serves the masomo REST API.
package main

func main() {
	startWithDig()
}
