package main

import "github.com/2vyy/qt-camera-dashboard/internal/presentation/cli"

func main() {
	cli.Execute()
}
