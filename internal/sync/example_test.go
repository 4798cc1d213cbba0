package sync_test

import (
	"context"
	"fmt"
	"log"

	"github.com/mschirtzinger/bugwarrior/internal/issue"
	"github.com/mschirtzinger/bugwarrior/internal/service"
	"github.com/mschirtzinger/bugwarrior/internal/store"
	"github.com/mschirtzinger/bugwarrior/internal/sync"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
)

// This example reconciles a hand-built stream into an in-memory store.
// Note: This is for documentation only and won't run as a test.
func ExampleEngine_Synchronize() {
	def := service.Definition{
		Service:        "github",
		IdentityFields: []string{"githuburl"},
		Schema:         []uda.Field{{Key: "githuburl", Type: uda.TypeString, Label: "Github URL"}},
	}

	records := make(chan service.Record, 1)
	iss := issue.New("my_github", "github")
	iss.Fields.Set("description", "Fix the parser")
	iss.Fields.Set("githuburl", "https://github.com/org/repo/issues/1")
	records <- service.Record{Target: "my_github", Issue: iss}
	close(records)

	engine := sync.New(store.NewMemory(""), sync.Options{
		Targets:  []service.Target{{Name: "my_github", Definition: def}},
		Policies: sync.DefaultPolicies(),
	}, nil)

	result, err := engine.Synchronize(context.Background(), records)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(result)
}
