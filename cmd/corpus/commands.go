package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/aihub/corpus-go/internal/config"
	"github.com/aihub/corpus-go/internal/corpus"
)

func runCreate(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	name := fs.String("name", "", "corpus name")
	llm := fs.String("llm", "local", "language model provider")
	embeddings := fs.String("embeddings", "", "embeddings provider, defaults to the llm provider")
	vectorDB := fs.String("vector-db", "local", "vector store provider")
	stateDB := fs.String("state-db", "", "state database DSN, defaults to corpus-state.db")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errUsage
	}

	a.initLogger("info")
	cfg := config.Default(*name)
	cfg.Main.LLM = *llm
	cfg.Main.Embeddings = *embeddings
	cfg.Main.VectorDB = *vectorDB
	cfg.Main.StateDB = *stateDB

	c, err := corpus.Create(ctx, a.corpusDir, cfg, a.options())
	if err != nil {
		return err
	}
	defer c.Close()
	a.out.Print(fmt.Sprintf("created corpus %q at %s", c.Name(), c.Path()))
	return nil
}

func runAddDocSet(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	name := fs.String("name", "", "document set name")
	paths := fs.String("path", "", "comma separated paths")
	types := fs.String("type", "Text", "comma separated <FileType>[:<ext>] specs")
	recursive := fs.Bool("recursive", false, "match files in subdirectories")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *paths == "" {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		report, err := c.AddDocSet(ctx, *name, splitList(*paths), splitList(*types), *recursive)
		if report != nil {
			a.out.Print(fmt.Sprintf("%s: %d/%d entries, %d files, %d chunks",
				report.DocSet, report.EntriesWritten, report.EntriesTotal, len(report.Files), report.Chunks))
		}
		return err
	})
}

func runAddConfigured(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		reports, err := c.AddConfiguredDocSets(ctx)
		for _, report := range reports {
			a.out.Print(fmt.Sprintf("%s: %d chunks from %d files", report.DocSet, report.Chunks, len(report.Files)))
		}
		return err
	})
}

func runRemoveDocSet(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	name := fs.String("name", "", "document set name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		removed, err := c.RemoveDocSet(ctx, *name)
		if err != nil {
			return err
		}
		a.out.Print(fmt.Sprintf("removed %d chunks", removed))
		return nil
	})
}

func runAddDoc(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	path := fs.String("path", "", "file to ingest")
	docSet := fs.String("docset", "", "document set name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" || *docSet == "" {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		report, err := c.AddDoc(ctx, *path, *docSet)
		if err != nil {
			return err
		}
		a.out.Print(fmt.Sprintf("%s: %d chunks", *path, report.Chunks))
		return nil
	})
}

func runAsk(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	sources := fs.Bool("sources", false, "toggle source citations before asking")
	resume := fs.Bool("continue", false, "append to the last conversation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	question := strings.Join(fs.Args(), " ")
	if question == "" {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		if *sources {
			if _, err := c.ToggleSources(ctx); err != nil {
				return err
			}
		}
		if *resume {
			if _, err := c.ResumeLastConversation(ctx); err != nil {
				return err
			}
		}
		answer, err := c.SendPrompt(ctx, question)
		if err != nil {
			return err
		}
		a.out.Print(answer)
		return nil
	})
}

func runSearch(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	k := fs.Int("k", 0, "number of results, defaults to the context size")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		results, err := c.Search(ctx, text, *k)
		if err != nil {
			return err
		}
		for i, r := range results {
			if i > 0 {
				a.out.Print("---")
			}
			a.out.Print(r)
		}
		return nil
	})
}

func runList(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	all := fs.Bool("all", false, "list every source document")
	docSet := fs.String("docset", "", "list the sources of one document set")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		docs, err := c.ListDocs(ctx, *all, *docSet)
		if err != nil {
			return err
		}
		for _, d := range docs {
			a.out.Print(d)
		}
		return nil
	})
}

func runAnnotate(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	title := fs.String("title", "", "annotation title, used as the file name")
	text := fs.String("text", "", "annotation text")
	last := fs.Bool("last", false, "annotate the last answer")
	verify := fs.Uint("verify", 0, "check that annotation ID matches its exported file")
	repair := fs.Uint("repair", 0, "rewrite and re-index the exported file of annotation ID")
	if err := fs.Parse(args); err != nil {
		return err
	}
	switch {
	case *verify != 0:
		return a.withCorpus(ctx, func(c *corpus.Corpus) error {
			if err := c.VerifyAnnotation(ctx, *verify); err != nil {
				return err
			}
			a.out.Print(fmt.Sprintf("annotation %d is consistent", *verify))
			return nil
		})
	case *repair != 0:
		return a.withCorpus(ctx, func(c *corpus.Corpus) error {
			path, err := c.RepairAnnotation(ctx, *repair)
			if err != nil {
				return err
			}
			a.out.Print(fmt.Sprintf("annotation %d rewritten to %s", *repair, path))
			return nil
		})
	}
	if *title == "" || (*text == "" && !*last) {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		var (
			id   uint
			path string
			err  error
		)
		if *last {
			id, path, err = c.AnnotateLastAnswer(ctx, *title)
		} else {
			id, path, err = c.AddAnnotation(ctx, *title, *text)
		}
		if err != nil {
			return err
		}
		a.out.Print(fmt.Sprintf("annotation %d written to %s", id, path))
		return nil
	})
}

func runConversations(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	id := fs.Uint("id", 0, "show one conversation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		if *id != 0 {
			conversation, err := c.GetConversation(ctx, *id)
			if err != nil {
				return err
			}
			a.out.PPrint(conversation)
			return nil
		}
		conversations, err := c.GetConversations(ctx)
		if err != nil {
			return err
		}
		for _, conv := range conversations {
			a.out.Print(fmt.Sprintf("%d\t%s", conv.ID, conv.Title))
		}
		return nil
	})
}

func runScripts(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		for _, name := range c.Scripts() {
			a.out.Print(name)
		}
		return nil
	})
}

func runScript(ctx context.Context, a *app, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}
	return a.withCorpus(ctx, func(c *corpus.Corpus) error {
		result, err := c.RunScript(ctx, fs.Arg(0), fs.Args()[1:])
		if err != nil {
			return err
		}
		if result != nil {
			a.out.PPrint(result)
		}
		return nil
	})
}
