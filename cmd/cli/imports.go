package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/gcsuploader"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/pipeline"
	"github.com/dvloznov/finance-importer/internal/store"
)

// parseFlags parses args into fs. A -h request is reported as flag.ErrHelp.
func (c *commands) parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(c.out)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

func helpOr(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

func (c *commands) runImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	accountID := fs.String("account", "", "account ID the statement belongs to (required)")
	file := fs.String("file", "", "path to a local CSV statement")
	uri := fs.String("uri", "", "gs:// URI of a CSV statement")
	upload := fs.Bool("upload", false, "upload -file to GCS_BUCKET instead of storing it inline")
	wait := fs.Bool("wait", true, "process the import now and wait for the result")
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}
	if *accountID == "" {
		return fmt.Errorf("%w: -account is required", errUsage)
	}
	if (*file == "") == (*uri == "") {
		return fmt.Errorf("%w: exactly one of -file or -uri is required", errUsage)
	}

	imp, err := c.newImport(ctx, *accountID, *file, *uri, *upload)
	if err != nil {
		return err
	}
	if err := c.app.Lifecycle.Create(ctx, imp); err != nil {
		return fmt.Errorf("runImport: %w", err)
	}
	fmt.Fprintf(c.out, "Created import %s\n", imp.ID)
	if !*wait {
		fmt.Fprintln(c.out, "Left pending for a worker to process.")
		return nil
	}

	final, err := c.processAndWait(ctx, imp.ID)
	if final != nil {
		if perr := c.printImport(ctx, final); perr != nil {
			return perr
		}
	}
	return err
}

func (c *commands) newImport(ctx context.Context, accountID, file, uri string, upload bool) (*domain.Import, error) {
	imp := &domain.Import{AccountID: accountID}

	if uri != "" {
		if _, _, err := gcsuploader.ParseGCSURI(uri); err != nil {
			return nil, fmt.Errorf("%w: %v", errUsage, err)
		}
		imp.SourceURI = uri
		imp.Filename = gcsuploader.ExtractFilename(uri)
		return imp, nil
	}

	imp.Filename = filepath.Base(file)
	if !upload {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("newImport: %w", err)
		}
		imp.Content = data
		imp.ContentType = "text/csv"
		return imp, nil
	}

	bucket := c.app.Config.GCSBucket
	if bucket == "" || c.app.Files == nil {
		return nil, fmt.Errorf("%w: -upload needs GCS_BUCKET and object storage access", errUsage)
	}
	object := path.Join("imports", accountID, time.Now().UTC().Format("20060102T150405")+"-"+imp.Filename)
	stored, err := c.app.Files.UploadFile(ctx, bucket, object, file)
	if err != nil {
		return nil, fmt.Errorf("newImport: %w", err)
	}
	fmt.Fprintf(c.out, "Uploaded %s to %s\n", file, stored)
	imp.SourceURI = stored
	return imp, nil
}

// processAndWait runs the import through the in-process queue and polls
// its job until it settles. Retries may move the job to a re-attempt, so
// the import returned is the one the job ended on.
func (c *commands) processAndWait(ctx context.Context, importID string) (*domain.Import, error) {
	a := c.app
	if !c.workersStarted {
		if err := a.StartWorkers(ctx); err != nil {
			return nil, fmt.Errorf("processAndWait: %w", err)
		}
		c.workersStarted = true
	}
	job, err := a.EnqueueImport(ctx, importID)
	if err != nil {
		return nil, fmt.Errorf("processAndWait: %w", err)
	}

	poll := a.Policy
	poll.MaxAttempts = 0
	poll.BaseDelay = 200 * time.Millisecond
	poll.MaxDelay = 5 * time.Second

	var final *jobs.Job
	err = poll.Poll(ctx, a.Config.Pipeline.PollCeiling, func(ctx context.Context) (bool, error) {
		j, err := a.Jobs.GetJob(ctx, job.JobID)
		if err != nil {
			return false, err
		}
		final = j
		return j.Status.Terminal(), nil
	})
	if err != nil {
		return nil, fmt.Errorf("processAndWait: import %s: %w", importID, err)
	}

	imp, err := a.Store.GetImport(ctx, final.ImportID)
	if err != nil {
		return nil, fmt.Errorf("processAndWait: %w", err)
	}
	switch final.Status {
	case jobs.JobStatusCompleted:
		return imp, nil
	case jobs.JobStatusDiscarded:
		return imp, fmt.Errorf("import %s was not processed: %s", importID, final.Error)
	}
	return imp, fmt.Errorf("import %s failed after %d attempts: %s", imp.ID, final.Attempt, final.Error)
}

func (c *commands) runStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	importID := fs.String("import", "", "import ID to show; omit to list imports")
	accountID := fs.String("account", "", "list only imports of this account")
	status := fs.String("status", "", "list only imports in this status")
	limit := fs.Int("limit", 20, "maximum imports to list")
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}

	if *importID != "" {
		imp, err := c.app.Store.GetImport(ctx, *importID)
		if err != nil {
			return fmt.Errorf("runStatus: %w", err)
		}
		return c.printImport(ctx, imp)
	}

	imports, err := c.app.Store.ListImports(ctx, store.ImportFilter{
		AccountID: *accountID,
		Status:    domain.ImportStatus(*status),
		Limit:     *limit,
	})
	if err != nil {
		return fmt.Errorf("runStatus: %w", err)
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tFILE\tSTATUS\tCANDIDATES\tCREATED")
	for _, imp := range imports {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			imp.ID, imp.AccountID, imp.Filename, imp.Status, len(imp.Candidates), imp.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func (c *commands) runCommit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	importID := fs.String("import", "", "import ID to commit (required)")
	candidates := fs.String("candidates", "", "comma-separated candidate IDs (default: every non-duplicate)")
	all := fs.Bool("all", false, "commit every candidate, duplicates included")
	if err := c.parseFlags(fs, args); err != nil {
		return helpOr(err)
	}
	if *importID == "" {
		return fmt.Errorf("%w: -import is required", errUsage)
	}

	imp, err := c.app.Store.GetImport(ctx, *importID)
	if err != nil {
		return fmt.Errorf("runCommit: %w", err)
	}

	var selected []string
	switch {
	case *candidates != "":
		for _, id := range strings.Split(*candidates, ",") {
			if id = strings.TrimSpace(id); id != "" {
				selected = append(selected, id)
			}
		}
	case *all:
		for _, cand := range imp.Candidates {
			selected = append(selected, cand.ID)
		}
	default:
		selected = pipeline.SelectNonDuplicates(imp)
	}

	done, txs, err := c.app.Lifecycle.Commit(ctx, imp.ID, selected)
	if err != nil {
		return fmt.Errorf("runCommit: %w", err)
	}
	fmt.Fprintf(c.out, "Committed %d of %d candidates; import %s is %s\n", len(txs), len(imp.Candidates), done.ID, done.Status)
	return nil
}

func (c *commands) printImport(ctx context.Context, imp *domain.Import) error {
	categories, err := c.app.Store.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("printImport: %w", err)
	}
	names := make(map[string]string, len(categories))
	for _, cat := range categories {
		names[cat.ID] = cat.Name
	}

	fmt.Fprintf(c.out, "\n=== Import %s ===\n", imp.ID)
	fmt.Fprintf(c.out, "Account:  %s\n", imp.AccountID)
	fmt.Fprintf(c.out, "File:     %s\n", imp.Filename)
	fmt.Fprintf(c.out, "Status:   %s\n", imp.Status)
	if imp.PreviousAttemptID != "" {
		fmt.Fprintf(c.out, "Retry of: %s\n", imp.PreviousAttemptID)
	}
	if imp.Status == domain.ImportProcessing {
		fmt.Fprintf(c.out, "Progress: %d/%d %s\n", imp.Progress.Current, imp.Progress.Total, imp.Progress.Label)
	}
	if imp.Status == domain.ImportFailed {
		fmt.Fprintf(c.out, "Error:    [%s] %s\n", imp.ErrorStage, imp.ErrorMessage)
	}
	for _, w := range imp.Warnings {
		fmt.Fprintf(c.out, "Warning:  %s\n", w)
	}
	if len(imp.Candidates) == 0 {
		return nil
	}

	duplicates, categorized := 0, 0
	fmt.Fprintln(c.out)
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tAMOUNT\tDIRECTION\tCATEGORY\tBY\tDUPLICATE\tDESCRIPTION")
	for _, cand := range imp.Candidates {
		dup := ""
		if cand.IsDuplicate {
			dup = "yes"
			duplicates++
		}
		if cand.CategoryID != "" {
			categorized++
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			cand.ID, cand.Date, cand.Amount.StringFixed(2), cand.Direction,
			names[cand.CategoryID], cand.CategorizedBy, dup, cand.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\n%d candidates, %d categorized, %d duplicates\n", len(imp.Candidates), categorized, duplicates)
	return nil
}
