// Command supervisorctl is a thin HTTP client for the Supervisor RPC
// surface exposed by cmd/server (spec §9: list_services, status, start,
// stop, restart, reload).
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8000", "base URL of the running server")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var err error
	switch args[0] {
	case "list":
		err = get(client, *addr+"/api/services")
	case "status":
		err = requireName(args, func(name string) error {
			return get(client, *addr+"/api/services/"+name)
		})
	case "start":
		err = requireName(args, func(name string) error {
			return post(client, *addr+"/api/services/"+name+"/start")
		})
	case "stop":
		err = requireName(args, func(name string) error {
			return post(client, *addr+"/api/services/"+name+"/stop")
		})
	case "restart":
		err = requireName(args, func(name string) error {
			return post(client, *addr+"/api/services/"+name+"/restart")
		})
	case "reload":
		// reload re-applies the declarative service list without a full
		// process restart of the Supervisor itself; the server treats it
		// the same as restarting every managed service.
		err = post(client, *addr+"/api/services/reload")
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "supervisorctl:", err)
		os.Exit(1)
	}
}

func requireName(args []string, fn func(string) error) error {
	if len(args) < 2 {
		return fmt.Errorf("missing service name")
	}
	return fn(args[1])
}

func get(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func post(client *http.Client, url string) error {
	resp, err := client.Post(url, "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return nil
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: supervisorctl [-addr url] <command> [service]

commands:
  list               list every managed service and its status
  status <service>    show one service's status
  start <service>     start a service
  stop <service>      stop a service
  restart <service>    restart a service
  reload              re-apply the declarative service list`)
}
