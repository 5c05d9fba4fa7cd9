// Command backfill scrapes a running registry's tag lists and emits SQL
// insert statements for the browse catalog. It is a one-shot migration
// aid for registries that predate the catalog.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type tagList struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

type row struct {
	Repository string
	Tag        string
	Digest     string
}

var client = &http.Client{Timeout: 30 * time.Second}

func main() {
	var (
		endpoint = flag.String("endpoint", "", "Registry base URL, e.g. https://registry.example.com")
		repos    = flag.String("repos", "", "Comma-separated repository names (default: query the browse API)")
	)
	flag.Parse()

	if *endpoint == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s -endpoint <url> [-repos a,b/c]\n", os.Args[0])
		os.Exit(1)
	}

	names := strings.FieldsFunc(*repos, func(r rune) bool { return r == ',' })
	if len(names) == 0 {
		var err error
		names, err = repositories(*endpoint)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list repositories")
		}
	}

	var rows []row
	for _, name := range names {
		repoRows, err := sync(*endpoint, name)
		if err != nil {
			log.Fatal().Err(err).Str("repository", name).Msg("failed to sync repository")
		}
		rows = append(rows, repoRows...)
	}

	if len(rows) == 0 {
		log.Warn().Msg("no tags found, nothing to emit")
		return
	}
	emit(rows)
}

func repositories(endpoint string) ([]string, error) {
	resp, err := client.Get(endpoint + "/api/repositories")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var body struct {
		Repositories []string `json:"repositories"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Repositories, nil
}

// sync walks one repository's tag list, following rel=next links, and
// resolves each mutable tag to its manifest digest.
func sync(endpoint, name string) ([]row, error) {
	var rows []row

	next := endpoint + "/v2/" + name + "/tags/list"
	for next != "" {
		resp, err := client.Get(next)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status %s", resp.Status)
		}

		var page tagList
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			resp.Body.Close()
			return nil, err
		}
		link := resp.Header.Get("link")
		resp.Body.Close()

		for _, tag := range page.Tags {
			if strings.HasPrefix(tag, "sha256:") {
				continue
			}
			dgst, err := resolveDigest(endpoint, name, tag)
			if err != nil {
				return nil, fmt.Errorf("no digest for %s:%s: %w", name, tag, err)
			}
			rows = append(rows, row{Repository: page.Name, Tag: tag, Digest: dgst})
		}

		next = nextLink(endpoint, link)
	}

	log.Info().Str("repository", name).Int("tags", len(rows)).Msg("repository synced")
	return rows, nil
}

func resolveDigest(endpoint, name, tag string) (string, error) {
	req, err := http.NewRequest(http.MethodHead, endpoint+"/v2/"+name+"/manifests/"+tag, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	dgst := resp.Header.Get("docker-content-digest")
	if dgst == "" {
		return "", fmt.Errorf("response carried no digest header")
	}
	return dgst, nil
}

// nextLink extracts the URL from a `<url>; rel=next` header value.
func nextLink(endpoint, link string) string {
	if link == "" {
		return ""
	}
	start := strings.Index(link, "<")
	end := strings.Index(link, ">")
	if start < 0 || end <= start {
		return ""
	}
	raw := link[start+1 : end]
	if u, err := url.Parse(raw); err == nil && !u.IsAbs() {
		return endpoint + raw
	}
	return raw
}

func emit(rows []row) {
	var manifests, tags strings.Builder
	manifests.WriteString("insert into manifests (repository, digest) values")
	tags.WriteString("insert into tags (repository, tag, digest) values")

	for i, r := range rows {
		sep := "\n   ,"
		if i == 0 {
			sep = "\n    "
		}
		fmt.Fprintf(&manifests, "%s ('%s', '%s')", sep, r.Repository, r.Digest)
		fmt.Fprintf(&tags, "%s ('%s', '%s', '%s')", sep, r.Repository, r.Tag, r.Digest)
	}

	fmt.Printf("%s\non conflict do nothing;\n%s\non conflict do nothing;\n", manifests.String(), tags.String())
}
