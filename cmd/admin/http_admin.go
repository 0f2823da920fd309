package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	adminCall(http.MethodGet, *baseURL, "/admin/v1/stats", 5*time.Second)
}

func purgeCmd(args []string) {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	adminCall(http.MethodPost, *baseURL, "/admin/v1/purge", 30*time.Second)
}

func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)
	adminCall(http.MethodPost, *baseURL, "/admin/v1/snapshot", 60*time.Second)
}

func adminCall(method, baseURL, path string, timeout time.Duration) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, _ := http.NewRequest(method, u, nil)
	cl := &http.Client{Timeout: timeout}
	resp, err := cl.Do(req)
	if err != nil {
		fmt.Fprintln(os.Stderr, "request:", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	fmt.Println(strings.TrimSpace(string(b)))
	if resp.StatusCode/100 != 2 {
		os.Exit(1)
	}
}
