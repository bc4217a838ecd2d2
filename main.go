// services/iotcore/main.go
package main

import "example.com/backstage/services/iotcore/cmd"

func main() {
	cmd.Execute()
}
