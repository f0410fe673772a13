package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"
)

// Compares read endpoints of the Go service against the legacy Express
// backend while both run side by side during the migration.

type probe struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type probeFile struct {
	Probes []probe `json:"probes"`
}

type result struct {
	Probe        probe
	GoStatus     int
	LegacyStatus int
	Match        bool
	Err          error
}

// Fields whose values legitimately differ between the two stacks.
var volatileFields = map[string]bool{
	"created_at":  true,
	"updated_at":  true,
	"reviewed_at": true,
	"uploaded_at": true,
	"expires_at":  true,
	"token":       true,
	"url":         true,
	"request_id":  true,
}

func defaultProbes() []probe {
	return []probe{
		{Method: "GET", Path: "/health", Critical: true},
		{Method: "GET", Path: "/api/v1/users/advisors", Critical: true},
		{Method: "GET", Path: "/api/v1/theses", Critical: true},
		{Method: "GET", Path: "/api/v1/proposals", Critical: true},
		{Method: "GET", Path: "/api/v1/notifications", Critical: false},
	}
}

func main() {
	var (
		goBase     string
		legacyBase string
		probesPath string
		bearer     string
		timeout    time.Duration
	)

	flag.StringVar(&goBase, "go-base", "http://localhost:8080", "Go API base URL")
	flag.StringVar(&legacyBase, "legacy-base", "http://localhost:3000", "Legacy API base URL")
	flag.StringVar(&probesPath, "probes", "", "Optional JSON probe file, defaults to a built-in set")
	flag.StringVar(&bearer, "token", os.Getenv("SHADOW_COMPARE_TOKEN"), "Bearer token sent to both backends")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	probes := defaultProbes()
	if probesPath != "" {
		loaded, err := loadProbes(probesPath)
		if err != nil {
			log.Fatalf("failed to load probes: %v", err)
		}
		probes = loaded
	}

	client := &http.Client{Timeout: timeout}
	breaking := 0
	var results []result

	for _, p := range probes {
		res := runProbe(client, goBase, legacyBase, bearer, p)
		if (res.Err != nil || !res.Match) && p.Critical {
			breaking++
		}
		results = append(results, res)
	}

	report(results)
	if breaking > 0 {
		fmt.Printf("%d critical probe(s) diverged\n", breaking)
		os.Exit(1)
	}
	fmt.Println("backends agree on all critical probes")
}

func loadProbes(path string) ([]probe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf probeFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, err
	}
	if len(pf.Probes) == 0 {
		return nil, fmt.Errorf("no probes defined in %s", path)
	}
	return pf.Probes, nil
}

func runProbe(client *http.Client, goBase, legacyBase, bearer string, p probe) result {
	res := result{Probe: p}

	goStatus, goBody, err := fetch(client, goBase, bearer, p)
	if err != nil {
		res.Err = fmt.Errorf("go request failed: %w", err)
		return res
	}
	legacyStatus, legacyBody, err := fetch(client, legacyBase, bearer, p)
	if err != nil {
		res.Err = fmt.Errorf("legacy request failed: %w", err)
		return res
	}

	res.GoStatus = goStatus
	res.LegacyStatus = legacyStatus
	res.Match = goStatus == legacyStatus && payloadsEqual(goBody, legacyBody)
	return res
}

func fetch(client *http.Client, base, bearer string, p probe) (int, []byte, error) {
	path := p.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	req, err := http.NewRequest(strings.ToUpper(p.Method), strings.TrimRight(base, "/")+path, nil)
	if err != nil {
		return 0, nil, err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func payloadsEqual(a, b []byte) bool {
	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	scrub(&aj)
	scrub(&bj)
	return reflect.DeepEqual(aj, bj)
}

// scrub blanks volatile fields and folds whole-number floats so the
// two JSON trees compare structurally.
func scrub(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, child := range val {
			if volatileFields[k] {
				val[k] = nil
				continue
			}
			scrub(&child)
			val[k] = child
		}
	case []interface{}:
		for i, child := range val {
			scrub(&child)
			val[i] = child
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func report(results []result) {
	fmt.Println("Shadow Compare Report")
	fmt.Println("=====================")
	for _, res := range results {
		label := "OK"
		switch {
		case res.Err != nil:
			label = "ERROR"
		case !res.Match:
			label = "DIFF"
		}
		fmt.Printf("[%-5s] %s %s\n", label, res.Probe.Method, res.Probe.Path)
		if res.Err != nil {
			fmt.Printf("        %v\n", res.Err)
			continue
		}
		fmt.Printf("        go=%d legacy=%d critical=%t\n", res.GoStatus, res.LegacyStatus, res.Probe.Critical)
	}
}
