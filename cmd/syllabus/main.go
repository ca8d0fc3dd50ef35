// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/syllabus"
	"github.com/poiesic/syllabus/config"
	"github.com/poiesic/syllabus/core"
	"github.com/poiesic/syllabus/ingestion"
	"github.com/poiesic/syllabus/memory"
	"github.com/poiesic/syllabus/search"
	"github.com/poiesic/syllabus/storage"
)

func main() {
	_ = godotenv.Load()
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "syllabus",
		Usage: "Curriculum-guarded textbook retrieval and lesson material generation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to BadgerDB database directory (overrides config)",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest a parsed textbook from a JSON file",
				ArgsUsage: "<book.json>",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "Replace a book that is already ingested",
					},
				},
			},
			{
				Name:   "books",
				Usage:  "List ready books",
				Action: booksCommand,
				Flags: []cli.Flag{
					ownerFlag(false),
					&cli.StringFlag{Name: "subject", Usage: "Only books with this subject"},
					&cli.IntFlag{Name: "grade", Usage: "Only books for this grade level"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of books", Value: search.DefaultBookListLimit},
				},
			},
			{
				Name:      "search",
				Usage:     "Search textbook content within a book or profile scope",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					ownerFlag(true),
					&cli.StringFlag{Name: "book", Usage: "Book to search"},
					&cli.StringFlag{Name: "profile", Usage: "Teaching profile whose books are searched"},
					&cli.IntFlag{Name: "max-seq", Usage: "Latest unit the class has reached (0 for no bound)"},
					&cli.IntFlag{Name: "min-seq", Usage: "Earliest unit to include (0 for no bound)"},
					&cli.StringFlag{Name: "type", Usage: "Only atoms of this type"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of hits", Value: search.DefaultLimit},
					&cli.BoolFlag{Name: "all-books", Usage: "Search every visible book"},
				},
			},
			{
				Name:  "profiles",
				Usage: "Manage teaching profiles",
				Subcommands: []*cli.Command{
					{
						Name:   "put",
						Usage:  "Create or replace a teaching profile",
						Action: profilesPutCommand,
						Flags: []cli.Flag{
							ownerFlag(true),
							&cli.StringFlag{Name: "id", Usage: "Profile ID", Required: true},
							&cli.StringFlag{Name: "name", Usage: "Display name"},
							&cli.IntFlag{Name: "grade", Usage: "Grade level"},
							&cli.StringSliceFlag{Name: "book", Usage: "Bound book ID (repeatable)", Required: true},
							&cli.StringSliceFlag{Name: "pedagogy", Usage: "Pedagogy tag (repeatable)"},
						},
					},
					{
						Name:      "get",
						Usage:     "Show a teaching profile",
						ArgsUsage: "<profile-id>",
						Action:    profilesGetCommand,
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Submit and track generation jobs",
				Subcommands: []*cli.Command{
					{
						Name:   "submit",
						Usage:  "Submit a generation job",
						Action: jobsSubmitCommand,
						Flags: []cli.Flag{
							ownerFlag(true),
							&cli.StringFlag{Name: "task", Usage: "Task type (quiz, worksheet, lesson_plan, summary)", Required: true},
							&cli.StringFlag{Name: "book", Usage: "Book to ground on"},
							&cli.StringFlag{Name: "profile", Usage: "Teaching profile to ground on"},
							&cli.IntFlag{Name: "from", Usage: "First unit"},
							&cli.IntFlag{Name: "to", Usage: "Last unit"},
							&cli.StringFlag{Name: "topic", Usage: "Topic focus"},
							&cli.IntFlag{Name: "count", Usage: "Number of items"},
							&cli.StringFlag{Name: "difficulty", Usage: "Difficulty hint"},
							&cli.BoolFlag{Name: "wait", Usage: "Run workers in process and wait for the result"},
							&cli.DurationFlag{Name: "poll", Usage: "Poll interval while waiting", Value: 500 * time.Millisecond},
						},
					},
					{
						Name:      "status",
						Usage:     "Show a job",
						ArgsUsage: "<job-id>",
						Action:    jobsStatusCommand,
					},
					{
						Name:      "cancel",
						Usage:     "Cancel a job",
						ArgsUsage: "<job-id>",
						Action:    jobsCancelCommand,
					},
					{
						Name:   "worker",
						Usage:  "Run job workers until interrupted",
						Action: jobsWorkerCommand,
					},
				},
			},
			{
				Name:  "artifacts",
				Usage: "Manage saved teaching artifacts",
				Subcommands: []*cli.Command{
					{
						Name:   "save",
						Usage:  "Save an artifact",
						Action: artifactsSaveCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "profile", Usage: "Owning profile", Required: true},
							&cli.StringFlag{Name: "type", Usage: "Artifact type (quiz, lesson, summary, worksheet, review)", Required: true},
							&cli.StringFlag{Name: "title", Usage: "Title"},
							&cli.StringFlag{Name: "summary", Usage: "Short summary"},
							&cli.StringFlag{Name: "file", Usage: "Read content from file (- for stdin)", Required: true},
							&cli.StringSliceFlag{Name: "ref", Usage: "Textbook atom reference (repeatable)"},
						},
					},
					{
						Name:      "search",
						Usage:     "Search a profile's artifacts",
						ArgsUsage: "[query]",
						Action:    artifactsSearchCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "profile", Usage: "Owning profile", Required: true},
							&cli.StringFlag{Name: "type", Usage: "Only artifacts of this type"},
							&cli.StringFlag{Name: "window", Usage: "Time window (today, yesterday, this_week, last_7_days, Nd, Nw)"},
							&cli.IntFlag{Name: "limit", Usage: "Maximum number of artifacts", Value: memory.DefaultSearchLimit},
						},
					},
					{
						Name:      "delete",
						Usage:     "Delete an artifact",
						ArgsUsage: "<artifact-id>",
						Action:    artifactsDeleteCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "profile", Usage: "Owning profile", Required: true},
						},
					},
				},
			},
			{
				Name:   "review",
				Usage:  "Compose a spaced review from recent artifacts",
				Action: reviewCommand,
				Flags: []cli.Flag{
					ownerFlag(true),
					&cli.StringFlag{Name: "profile", Usage: "Teaching profile", Required: true},
					&cli.StringFlag{Name: "window", Usage: "Time window", Value: memory.DefaultWindow},
					&cli.StringFlag{Name: "type", Usage: "Only review artifacts of this type"},
					&cli.IntFlag{Name: "count", Usage: "Number of review items", Value: memory.DefaultReviewItems},
					&cli.IntFlag{Name: "max-seq", Usage: "Latest unit the class has reached (0 for no bound)"},
					&cli.BoolFlag{Name: "save", Usage: "Save the review as an artifact"},
				},
			},
			{
				Name:  "shards",
				Usage: "Inspect and rebalance content shards",
				Subcommands: []*cli.Command{
					{
						Name:   "load",
						Usage:  "Show atom counts per shard",
						Action: shardsLoadCommand,
					},
					{
						Name:      "move",
						Usage:     "Move a book to another shard",
						ArgsUsage: "<book-id> <shard>",
						Action:    shardsMoveCommand,
					},
				},
			},
		},
	}
}

func ownerFlag(required bool) cli.Flag {
	return &cli.StringFlag{
		Name:     "owner",
		Aliases:  []string{"u"},
		Usage:    "Requesting user ID",
		EnvVars:  []string{"SYLLABUS_USER"},
		Required: required,
	}
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	var (
		cfg  *config.AppConfig
		path string
		err  error
	)
	if path = c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, path, err = config.LoadDefault()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
	}
	slog.Debug("loaded config", "path", path)
	return cfg, nil
}

func openSystem(c *cli.Context, opts ...syllabus.Option) (*syllabus.System, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	opts = append([]syllabus.Option{syllabus.WithLogger(slog.Default())}, opts...)
	sys, err := syllabus.Open(c.Context, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return sys, nil
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s expects %d argument(s): %s", c.Command.Name, n, c.Command.ArgsUsage)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalInt(c *cli.Context, name string) *int {
	if !c.IsSet(name) || c.Int(name) <= 0 {
		return nil
	}
	v := c.Int(name)
	return &v
}

// bookFile is the on-disk form of a parsed textbook.
type bookFile struct {
	ID         string               `json:"id"`
	Title      string               `json:"title"`
	Subject    string               `json:"subject"`
	GradeLevel int                  `json:"grade_level"`
	OwnerID    string               `json:"owner_id,omitempty"`
	Metadata   core.Metadata        `json:"metadata,omitempty"`
	Sections   []core.SectionRecord `json:"sections"`
	Chunks     []core.ContentChunk  `json:"chunks"`
}

func readBookFile(path string) (*bookFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bf bookFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &bf, nil
}

func (bf *bookFile) request(replace bool) ingestion.IngestRequest {
	return ingestion.IngestRequest{
		Book: &core.Book{
			ID:         core.ID(bf.ID),
			Title:      bf.Title,
			Subject:    bf.Subject,
			GradeLevel: bf.GradeLevel,
			OwnerID:    bf.OwnerID,
			Metadata:   bf.Metadata,
		},
		Sections: bf.Sections,
		Chunks:   bf.Chunks,
		Replace:  replace,
	}
}

func ingestCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	bf, err := readBookFile(c.Args().First())
	if err != nil {
		return err
	}

	sys, err := openSystem(c, syllabus.WithProgress(c.App.ErrWriter))
	if err != nil {
		return err
	}
	defer sys.Close()

	book, err := sys.IngestBook(c.Context, bf.request(c.Bool("replace")))
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Ingested %s (%q): %d nodes, %d atoms, version %d\n",
		book.ID, book.Title, book.NodeCount, book.AtomCount, book.Version)
	return nil
}

func booksCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	books, err := sys.ListBooks(c.Context, storage.BookFilter{
		Subject:    c.String("subject"),
		GradeLevel: c.Int("grade"),
		Limit:      c.Int("limit"),
	}, c.String("owner"))
	if err != nil {
		return err
	}
	for _, b := range books {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\tgrade %d\t%d atoms\n", b.ID, b.Title, b.Subject, b.GradeLevel, b.AtomCount)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	req := search.Request{
		Query:            c.Args().First(),
		BookID:           core.ID(c.String("book")),
		ProfileID:        core.ID(c.String("profile")),
		OwnerUserID:      c.String("owner"),
		MaxSequenceIndex: optionalInt(c, "max-seq"),
		MinSequenceIndex: optionalInt(c, "min-seq"),
		Limit:            c.Int("limit"),
		AdminOverride:    c.Bool("all-books"),
	}
	if t := c.String("type"); t != "" {
		req.Filters = []core.Filter{core.Eq(core.FilterKeyAtomType, t)}
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	hits, err := sys.Search(c.Context, req)
	if err != nil {
		return err
	}
	for i, h := range hits {
		fmt.Fprintf(c.App.Writer, "%2d. [%.4f] %s unit %d (%s)\n    %s\n", i+1, h.Score, h.BookID, h.SequenceIndex, h.AtomType, h.Text)
	}
	return nil
}

func profilesPutCommand(c *cli.Context) error {
	books := c.StringSlice("book")
	profile := &core.Profile{
		ID:           core.ID(c.String("id")),
		OwnerUserID:  c.String("owner"),
		Name:         c.String("name"),
		GradeLevel:   c.Int("grade"),
		BookIDs:      make([]core.ID, 0, len(books)),
		PedagogyTags: c.StringSlice("pedagogy"),
	}
	for _, b := range books {
		profile.BookIDs = append(profile.BookIDs, core.ID(b))
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.PutProfile(c.Context, profile); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Saved profile %s\n", profile.ID)
	return nil
}

func profilesGetCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	profile, err := sys.GetProfile(c.Context, core.ID(c.Args().First()))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, profile)
}

func jobParams(c *cli.Context) core.JobParams {
	return core.JobParams{
		TaskType:    c.String("task"),
		BookID:      core.ID(c.String("book")),
		ProfileID:   core.ID(c.String("profile")),
		OwnerUserID: c.String("owner"),
		UnitFrom:    c.Int("from"),
		UnitTo:      c.Int("to"),
		Topic:       c.String("topic"),
		ItemCount:   c.Int("count"),
		Difficulty:  c.String("difficulty"),
	}
}

func jobsSubmitCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	job, err := sys.SubmitJob(c.Context, jobParams(c))
	if err != nil {
		return err
	}
	if c.Bool("wait") && !job.Status.Terminal() {
		if err := sys.StartWorkers(c.Context); err != nil {
			return err
		}
		if job, err = sys.AwaitJob(c.Context, job.ID, c.Duration("poll")); err != nil {
			return err
		}
	}
	return printJSON(c.App.Writer, job)
}

func jobsStatusCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	job, err := sys.GetJob(c.Context, core.ID(c.Args().First()))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, job)
}

func jobsCancelCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	job, err := sys.CancelJob(c.Context, core.ID(c.Args().First()))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\t%s\n", job.ID, job.Status)
	return nil
}

func jobsWorkerCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	if err := sys.StartWorkers(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	slog.Info("shutting down workers")
	sys.StopWorkers()
	return nil
}

func readContent(c *cli.Context, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(c.App.Reader)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func artifactsSaveCommand(c *cli.Context) error {
	content, err := readContent(c, c.String("file"))
	if err != nil {
		return err
	}
	refs := make([]core.ID, 0, len(c.StringSlice("ref")))
	for _, r := range c.StringSlice("ref") {
		refs = append(refs, core.ID(r))
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	saved, err := sys.SaveArtifact(c.Context, &core.Artifact{
		ProfileID:    core.ID(c.String("profile")),
		Type:         c.String("type"),
		Title:        c.String("title"),
		Summary:      c.String("summary"),
		Content:      content,
		TextbookRefs: refs,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Saved artifact %s (tags: %s)\n", saved.ID, strings.Join(saved.Tags, ", "))
	return nil
}

func artifactsSearchCommand(c *cli.Context) error {
	q := memory.Query{
		ProfileID: core.ID(c.String("profile")),
		Query:     strings.Join(c.Args().Slice(), " "),
		Type:      c.String("type"),
		Limit:     c.Int("limit"),
	}
	if w := c.String("window"); w != "" {
		r, err := memory.ParseWindow(w, time.Now())
		if err != nil {
			return err
		}
		q.Range = r
	}

	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	hits, err := sys.SearchArtifacts(c.Context, q)
	if err != nil {
		return err
	}
	for _, h := range hits {
		a := h.Artifact
		fmt.Fprintf(c.App.Writer, "%s\t[%.4f]\t%s\t%s\t%s\n", a.ID, h.Score, a.Type, a.CreatedAt.Format(time.DateOnly), a.Title)
	}
	return nil
}

func artifactsDeleteCommand(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	return sys.DeleteArtifact(c.Context, core.ID(c.String("profile")), core.ID(c.Args().First()))
}

func reviewCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	review, err := sys.ComposeReview(c.Context, memory.ReviewRequest{
		ProfileID:        core.ID(c.String("profile")),
		OwnerUserID:      c.String("owner"),
		Window:           c.String("window"),
		Type:             c.String("type"),
		ItemCount:        c.Int("count"),
		MaxSequenceIndex: optionalInt(c, "max-seq"),
		Save:             c.Bool("save"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Reviewed %d artifacts, topics: %s\n", len(review.Artifacts), strings.Join(review.Topics, ", "))
	if review.Saved != nil {
		fmt.Fprintf(c.App.ErrWriter, "Saved review %s\n", review.Saved.ID)
	}
	fmt.Fprintln(c.App.Writer, review.Result)
	return nil
}

func shardsLoadCommand(c *cli.Context) error {
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	load, err := sys.ShardLoad(c.Context)
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, load)
}

func shardsMoveCommand(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	sys, err := openSystem(c)
	if err != nil {
		return err
	}
	defer sys.Close()

	bookID, shard := core.ID(c.Args().Get(0)), c.Args().Get(1)
	if err := sys.MoveBook(c.Context, bookID, shard); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Moved %s to %s\n", bookID, shard)
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
