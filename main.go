package main

import "github.com/ValentinKolb/geoKV/cmd"

func main() {
	cmd.Execute()
}
