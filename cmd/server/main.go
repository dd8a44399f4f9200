// Command server runs the agora real-time gateway.
//
//	server serve            start the websocket gateway (default)
//	server token --user u1  issue a user JWT
//	server admin-token      print the token guarding the ops endpoints
//	server migrate          apply PostgreSQL migrations
//
// Configuration is read from configs/<MODE>.yaml and AGORA_* variables.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
