package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

type stageFlags struct {
	baseURL    *string
	experiment *string
	cohort     *string
	stage      *string
}

func addStageFlags(fs *flag.FlagSet) stageFlags {
	return stageFlags{
		baseURL:    fs.String("url", "http://127.0.0.1:8080", "server base url"),
		experiment: fs.String("experiment", "", "experiment id"),
		cohort:     fs.String("cohort", "", "cohort id"),
		stage:      fs.String("stage", "", "stage id"),
	}
}

func (f stageFlags) requireKey() {
	if *f.experiment == "" || *f.cohort == "" || *f.stage == "" {
		fmt.Fprintln(os.Stderr, "missing -experiment, -cohort or -stage")
		os.Exit(2)
	}
}

func stagesCmd(args []string) {
	fs := flag.NewFlagSet("stages", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	_ = fs.Parse(args)

	u := strings.TrimRight(strings.TrimSpace(*baseURL), "/") + "/admin/stages"
	httpGet(u)
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	f := addStageFlags(fs)
	_ = fs.Parse(args)
	f.requireKey()

	q := url.Values{}
	q.Set("experiment", *f.experiment)
	q.Set("cohort", *f.cohort)
	q.Set("stage", *f.stage)
	u := strings.TrimRight(strings.TrimSpace(*f.baseURL), "/") + "/admin/stage?" + q.Encode()
	httpGet(u)
}

func interveneCmd(action string, args []string) {
	fs := flag.NewFlagSet(action, flag.ExitOnError)
	f := addStageFlags(fs)
	operator := fs.String("operator", "", "operator name for the override trail")
	participant := fs.String("participant", "", "participant to hand the turn to (reassign only)")
	detail := fs.String("detail", "", "free-form note for the override trail")
	_ = fs.Parse(args)
	f.requireKey()
	if *operator == "" {
		fmt.Fprintln(os.Stderr, "missing -operator")
		os.Exit(2)
	}
	if action == "reassign" && *participant == "" {
		fmt.Fprintln(os.Stderr, "missing -participant")
		os.Exit(2)
	}

	body, _ := json.Marshal(map[string]string{
		"experiment_id": *f.experiment,
		"cohort_id":     *f.cohort,
		"stage_id":      *f.stage,
		"operator":      *operator,
		"participant":   *participant,
		"detail":        *detail,
	})
	u := strings.TrimRight(strings.TrimSpace(*f.baseURL), "/") + "/admin/stage/" + action
	req, _ := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	cl := &http.Client{Timeout: 10 * time.Second}
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

func httpGet(u string) {
	cl := &http.Client{Timeout: 5 * time.Second}
	resp, err := cl.Get(u)
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
