package main

import "github.com/OpenAssetIO/conan-center-index/cmd"

func main() {
	cmd.Execute()
}
