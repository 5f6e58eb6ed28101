// Warden - Cloud resource compliance pipeline
package main

func main() {
	Execute()
}
