package util

import (
	"encoding/json"
	"fmt"
	"net"
	"net/rpc"
	"os"
)

func ReadJSONConfig(filename string, config interface{}) error {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(configData, config)
}

func WriteJSONConfig(filename string, config interface{}) error {
	configData, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, configData, 0644)
}

func CheckErr(err error, errfmsg string, fargs ...interface{}) {
	if err != nil {
		fmt.Fprintf(os.Stderr, errfmsg+": %v\n", append(fargs, err)...)
		os.Exit(1)
	}
}

func DialRPC(addr string) (*rpc.Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(conn), nil
}
