// Package main is the entry point for the SmartShopAI provisioner.
//
// @title          SmartShopAI Provisioner API
// @version        1.0
// @description    Provisions the SmartShopAI MongoDB deployment and reports bootstrap status.
// @host           localhost:8082
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
