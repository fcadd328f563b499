// entry point of the application
package main

import "dvzoll/cmd"

func main() {
	cmd.Execute()
}
