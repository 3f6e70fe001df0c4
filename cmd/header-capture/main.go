// header-capture is a throwaway upstream for manually exercising a gateway
// route: point an upstream_base at it and inspect what the attempt engine
// actually put on the wire after proxyheaders.RewriteOutbound ran, without
// spending a real LLM API call.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
)

func main() {
	port := "19999"
	if len(os.Args) > 1 {
		port = os.Args[1]
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Printf("\n=== %s %s ===\n", r.Method, r.URL.Path)

		// Sort headers for readability
		var keys []string
		for k := range r.Header {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			for _, v := range r.Header[k] {
				display := v
				if len(display) > 120 {
					display = display[:120] + "..."
				}
				fmt.Printf("  %s: %s\n", k, display)
			}
		}

		if auth := r.Header.Get("Authorization"); auth != "" {
			fmt.Printf("  -> Authorization scheme injected by the gateway\n")
		}
		if key := r.Header.Get("x-goog-api-key"); key != "" {
			fmt.Printf("  -> x-goog-api-key scheme injected by the gateway\n")
		}

		body, _ := io.ReadAll(r.Body)
		fmt.Printf("  [Body: %d bytes]\n", len(body))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"id":"msg_test","type":"message","role":"assistant","content":[{"type":"text","text":"header capture done"}],"model":"test-upstream","stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	})

	fmt.Printf("header-capture listening on :%s\n", port)
	fmt.Printf("point a service's upstream_base at http://localhost:%s to inspect rewritten headers\n", port)
	fmt.Println(strings.Repeat("-", 60))
	http.ListenAndServe(":"+port, nil)
}
