package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/XiaoConstantine/dspy-go/pkg/core"
	"github.com/XiaoConstantine/dspy-go/pkg/llms"
	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	"github.com/briandowns/spinner"
	"github.com/logrusorgru/aurora"

	"github.com/hindsightci/hindsight/internal/config"
	"github.com/hindsightci/hindsight/internal/github"
	"github.com/hindsightci/hindsight/internal/knowledge"
	"github.com/hindsightci/hindsight/internal/review"
	"github.com/hindsightci/hindsight/internal/service"
)

func main() {
	ctx := core.WithExecutionState(context.Background())
	apiKey := flag.String("api-key", "", "LLM provider API key")
	modelID := flag.String("model", "llamacpp:", "Model identifier, e.g. llamacpp: or ollama:<model>")
	githubToken := flag.String("github-token", config.GetGitHubToken(), "GitHub token")
	owner := flag.String("owner", "", "Repository owner")
	repo := flag.String("repo", "", "Repository name")
	query := flag.String("query", "", "PR URL to review, or a free-form question")
	collect := flag.Bool("collect", false, "Collect the repository's merged-PR review history and exit")
	status := flag.Bool("status", false, "Print the repository's collection and index status and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	if *githubToken == "" || *owner == "" || *repo == "" {
		fmt.Println("Missing required flags. Please provide:")
		fmt.Println("  -github-token or set GITHUB_TOKEN")
		fmt.Println("  -owner (repository owner)")
		fmt.Println("  -repo (repository name)")
		os.Exit(1)
	}
	if !*collect && !*status && *query == "" {
		fmt.Println("Provide -query (a PR URL or a question), -collect to gather review history, or -status.")
		os.Exit(1)
	}

	logLevel := logging.INFO
	if *debug {
		logLevel = logging.DEBUG
	}
	output := logging.NewConsoleOutput(true, logging.WithColor(true))
	logger := logging.NewLogger(logging.Config{
		Severity: logLevel,
		Outputs:  []logging.Output{output},
	})
	logging.SetLogger(logger)

	// Status lookups touch only local state; no model needed.
	if !*status {
		llms.EnsureFactory()
		if err := core.ConfigureDefaultLLM(*apiKey, core.ModelID(*modelID)); err != nil {
			logger.Error(ctx, "Failed to configure LLM: %v", err)
			os.Exit(1)
		}
	}

	svc := service.New(
		github.NewTools(*githubToken),
		review.NewClient(),
		knowledge.LLMEmbedder{},
		config.GetDataDir(),
	)
	defer svc.Close()

	if *status {
		st, err := svc.RepoStatus(ctx, *owner, *repo)
		if err != nil {
			logger.Error(ctx, "Status lookup failed: %v", err)
			os.Exit(1)
		}
		fmt.Printf("%s/%s\n", *owner, *repo)
		fmt.Printf("  history collected: %t\n", st.HasExport)
		fmt.Printf("  index ready:       %t\n", st.IndexReady)
		fmt.Printf("  collecting:        %t\n", st.Collecting)
		fmt.Printf("  rebuilding:        %t\n", st.Rebuilding)
		return
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Prefix = "Processing "
	if err := s.Color("cyan"); err != nil {
		logger.Error(ctx, "Failed to start spinner properly")
	}

	if *collect {
		logger.Info(ctx, "Collecting merged PR history for %s/%s", *owner, *repo)
		s.Start()
		count, err := svc.Collect(ctx, *owner, *repo)
		s.Stop()
		if err != nil {
			logger.Error(ctx, "Collection failed: %v", err)
			os.Exit(1)
		}
		fmt.Println(aurora.Green(fmt.Sprintf("✔ Collected %d merged PRs from %s/%s", count, *owner, *repo)).String())
		return
	}

	s.Start()
	state, err := svc.Answer(ctx, *owner, *repo, *query)
	s.Stop()
	if err != nil {
		logger.Error(ctx, "Review failed: %v", err)
		os.Exit(1)
	}

	fmt.Println(aurora.Blue("── Review ──").String())
	fmt.Println(state.Generation)
}
