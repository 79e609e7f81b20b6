/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/streamfold/ris-relay/internal/config"
	"github.com/streamfold/ris-relay/internal/control"
)

// jobCmd represents the job command
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect historical fetch jobs on a running server",
	Run: func(cmd *cobra.Command, args []string) {
		log.Fatal("Choose a subcommand: submit, status, cancel")
	},
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a historical fetch job",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runJobSubmit(); err != nil {
			log.Fatal(err)
		}
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print the status of a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runJobStatus(args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runJobCancel(args[0]); err != nil {
			log.Fatal(err)
		}
	},
}

var controlEndpoint string

var jobResource string
var jobStart string
var jobEnd string
var jobWait bool
var jobPollInterval time.Duration

func init() {
	rootCmd.AddCommand(jobCmd)
	jobCmd.AddCommand(jobSubmitCmd, jobStatusCmd, jobCancelCmd)

	jobCmd.PersistentFlags().StringVar(&controlEndpoint, "server", control.DefaultAddr, "Address of the ris-relay server")

	jobSubmitCmd.Flags().StringVar(&jobResource, "resource", "", "AS number (64500 or AS64500), prefix or IP address")
	jobSubmitCmd.Flags().StringVar(&jobStart, "start", "", "Start of the time range, e.g. 2024-01-01T00:00:00Z")
	jobSubmitCmd.Flags().StringVar(&jobEnd, "end", "", "End of the time range, defaults to now")
	jobSubmitCmd.Flags().BoolVar(&jobWait, "wait", false, "Wait for the job to finish, printing progress")
	jobSubmitCmd.Flags().DurationVar(&jobPollInterval, "poll-interval", time.Second, "Interval between status polls with --wait")

	_ = jobSubmitCmd.MarkFlagRequired("resource")
	_ = jobSubmitCmd.MarkFlagRequired("start")
}

func newControlClient() (*control.Client, *zap.Logger, error) {
	zl, err := config.NewLogger(logLevel, logFormat)
	if err != nil {
		return nil, nil, err
	}

	c, err := control.NewClient(controlEndpoint, zl)
	if err != nil {
		return nil, nil, err
	}
	return c, zl, nil
}

func runJobSubmit() error {
	c, zl, err := newControlClient()
	if err != nil {
		return err
	}

	end := jobEnd
	if end == "" {
		end = time.Now().UTC().Format(time.RFC3339)
	}

	ctx := context.Background()
	id, err := c.SubmitJob(ctx, control.SubmitRequest{
		Resource:  jobResource,
		StartTime: jobStart,
		EndTime:   end,
	})
	if err != nil {
		return err
	}

	if !jobWait {
		fmt.Println(id)
		return nil
	}

	zl.Info("job submitted", zap.String("job_id", id))
	resp, err := c.WaitJob(ctx, id, jobPollInterval, func(r control.JobResponse) {
		zl.Info("job progress", zap.String("job_id", id), zap.String("status", r.Status))
	})
	if err != nil {
		return err
	}

	if err := printJSON(resp); err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("job %s failed: %s", id, resp.Error)
	}
	return nil
}

func runJobStatus(id string) error {
	c, _, err := newControlClient()
	if err != nil {
		return err
	}

	resp, err := c.JobStatus(context.Background(), id)
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func runJobCancel(id string) error {
	c, zl, err := newControlClient()
	if err != nil {
		return err
	}

	if err := c.CancelJob(context.Background(), id); err != nil {
		return err
	}
	zl.Info("job cancel requested", zap.String("job_id", id))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
