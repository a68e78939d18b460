package main

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gpuindex/internal/model"
	"gpuindex/internal/service/schedule"
	queue "gpuindex/pkg/queue/asynq"
	storemodel "gpuindex/pkg/store/mysql/model"

	"github.com/urfave/cli/v2"
)

const timeLayout = "2006-01-02 15:04:05"

func clientFrom(cctx *cli.Context) *apiClient {
	return newAPIClient(cctx.String(FlagServer), cctx.String(FlagAPIKey), cctx.Duration(FlagTimeout))
}

var jobsCmd = &cli.Command{
	Name:  "jobs",
	Usage: "List recent scrape jobs",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "provider", Aliases: []string{"p"}, Usage: "only jobs of this provider"},
		&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "running, completed, failed, timeout, rate_limited"},
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
	},
	Action: func(cctx *cli.Context) error {
		query := url.Values{}
		setIf(query, "provider", cctx.String("provider"))
		setIf(query, "status", cctx.String("status"))
		query.Set("limit", strconv.Itoa(cctx.Int("limit")))

		var resp struct {
			Jobs []*storemodel.ScrapeJobView `json:"jobs"`
		}
		if err := clientFrom(cctx).get(cctx.Context, "/api/v1/ops/jobs", query, &resp); err != nil {
			return err
		}

		rows := make([][]string, 0, len(resp.Jobs))
		for _, j := range resp.Jobs {
			duration := "-"
			if j.DurationMs != nil {
				duration = (time.Duration(*j.DurationMs) * time.Millisecond).String()
			}
			errMsg := ""
			if j.ErrorMessage != nil {
				errMsg = *j.ErrorMessage
			}
			rows = append(rows, []string{
				strconv.FormatInt(j.ID, 10),
				j.ProviderSlug,
				j.Trigger,
				colorStatus(j.Status),
				j.StartedAt.Local().Format(timeLayout),
				duration,
				strconv.Itoa(j.OffersProcessed),
				strconv.Itoa(j.OffersSkipped),
				strconv.Itoa(j.AnomaliesDetected),
				errMsg,
			})
		}
		renderTable(cctx.App.Writer, []string{"ID", "PROVIDER", "TRIGGER", "STATUS", "STARTED", "DURATION", "OFFERS", "SKIPPED", "ANOMALIES", "ERROR"}, rows)
		return nil
	},
}

var anomaliesCmd = &cli.Command{
	Name:  "anomalies",
	Usage: "List detected price anomalies",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "provider", Aliases: []string{"p"}},
		&cli.IntFlag{Name: "hours", Usage: "look back window", Value: 24},
		&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50},
	},
	Action: func(cctx *cli.Context) error {
		query := url.Values{}
		setIf(query, "provider", cctx.String("provider"))
		query.Set("hours", strconv.Itoa(cctx.Int("hours")))
		query.Set("limit", strconv.Itoa(cctx.Int("limit")))

		var resp struct {
			Anomalies []*storemodel.PriceAnomalyView `json:"anomalies"`
		}
		if err := clientFrom(cctx).get(cctx.Context, "/api/v1/ops/anomalies", query, &resp); err != nil {
			return err
		}

		rows := make([][]string, 0, len(resp.Anomalies))
		for _, a := range resp.Anomalies {
			rows = append(rows, []string{
				a.DetectedAt.Local().Format(timeLayout),
				a.ProviderSlug,
				a.GpuSlug,
				a.InstanceType,
				a.Channel,
				fmt.Sprintf("%.4f", a.OldPricePerGPUHour),
				fmt.Sprintf("%.4f", a.NewPricePerGPUHour),
				colorChange(a.ChangePercent.StringFixed(2)+"%", a.ChangePercent.IsNegative()),
			})
		}
		renderTable(cctx.App.Writer, []string{"DETECTED", "PROVIDER", "GPU", "INSTANCE", "CHANNEL", "OLD $/GPU-H", "NEW $/GPU-H", "CHANGE"}, rows)
		return nil
	},
}

var reconcileCmd = &cli.Command{
	Name:  "reconcile",
	Usage: "Re-sync schedule triggers with the provider list",
	Action: func(cctx *cli.Context) error {
		var result schedule.ReconcileResult
		if err := clientFrom(cctx).post(cctx.Context, "/api/v1/ops/reconcile", nil, &result); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "added=%d updated=%d removed=%d enqueued=%d\n",
			result.Added, result.Updated, result.Removed, result.Enqueued)
		for _, slug := range result.Failed {
			fmt.Fprintf(cctx.App.Writer, "%s could not queue next slot of %s\n", red("!"), slug)
		}
		return nil
	},
}

var queuesCmd = &cli.Command{
	Name:  "queues",
	Usage: "Show queue depth",
	Action: func(cctx *cli.Context) error {
		var resp struct {
			Queues []queue.QueueStats `json:"queues"`
		}
		if err := clientFrom(cctx).get(cctx.Context, "/api/v1/ops/queues", nil, &resp); err != nil {
			return err
		}

		rows := make([][]string, 0, len(resp.Queues))
		for _, q := range resp.Queues {
			failed := strconv.Itoa(q.Failed)
			if q.Failed > 0 {
				failed = red(failed)
			}
			name := q.Queue
			if q.Paused {
				name = yellow(name + " (paused)")
			}
			rows = append(rows, []string{
				name,
				strconv.Itoa(q.Waiting),
				strconv.Itoa(q.Active),
				strconv.Itoa(q.Delayed),
				strconv.Itoa(q.Retry),
				failed,
				strconv.Itoa(q.Completed),
			})
		}
		renderTable(cctx.App.Writer, []string{"QUEUE", "WAITING", "ACTIVE", "DELAYED", "RETRY", "FAILED", "COMPLETED"}, rows)
		return nil
	},
}

var triggersCmd = &cli.Command{
	Name:  "triggers",
	Usage: "List schedule triggers",
	Action: func(cctx *cli.Context) error {
		var resp struct {
			Triggers []*model.Trigger `json:"triggers"`
		}
		if err := clientFrom(cctx).get(cctx.Context, "/api/v1/ops/triggers", nil, &resp); err != nil {
			return err
		}

		rows := make([][]string, 0, len(resp.Triggers))
		for _, t := range resp.Triggers {
			next := "-"
			if !t.NextRunAt.IsZero() {
				next = t.NextRunAt.Local().Format(timeLayout)
			}
			rows = append(rows, []string{t.ProviderSlug, t.Interval().String(), t.Offset().String(), next})
		}
		renderTable(cctx.App.Writer, []string{"PROVIDER", "INTERVAL", "OFFSET", "NEXT RUN"}, rows)
		return nil
	},
}

var triggerCmd = &cli.Command{
	Name:      "trigger",
	Usage:     "Queue an immediate scrape of a provider",
	ArgsUsage: "<provider-slug>",
	Action: func(cctx *cli.Context) error {
		if cctx.NArg() != 1 {
			return fmt.Errorf("expected exactly one provider slug")
		}
		slug := cctx.Args().First()

		var resp struct {
			TaskID   string `json:"task_id"`
			Enqueued bool   `json:"enqueued"`
		}
		if err := clientFrom(cctx).post(cctx.Context, "/api/v1/ops/providers/"+url.PathEscape(slug)+"/trigger", nil, &resp); err != nil {
			return err
		}
		if resp.Enqueued {
			fmt.Fprintf(cctx.App.Writer, "%s queued %s\n", green("✓"), resp.TaskID)
		} else {
			fmt.Fprintf(cctx.App.Writer, "%s %s already queued this minute\n", yellow("-"), resp.TaskID)
		}
		return nil
	},
}

var rollupCmd = &cli.Command{
	Name:  "rollup",
	Usage: "Rebuild the daily price history of one day",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "day", Aliases: []string{"d"}, Usage: "YYYY-MM-DD, defaults to yesterday"},
	},
	Action: func(cctx *cli.Context) error {
		var resp struct {
			Day      string `json:"day"`
			TaskID   string `json:"task_id"`
			Enqueued bool   `json:"enqueued"`
		}
		body := map[string]string{"day": cctx.String("day")}
		if err := clientFrom(cctx).post(cctx.Context, "/api/v1/ops/rollup", body, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cctx.App.Writer, "rollup of %s queued as %s (new=%t)\n", resp.Day, resp.TaskID, resp.Enqueued)
		return nil
	},
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}
