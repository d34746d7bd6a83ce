package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Register and inspect workers against a running replica",
}

var workerRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		id, _ := cmd.Flags().GetString("id")

		w := types.Worker{ID: id, Status: types.WorkerIdle, Capabilities: map[string]float64{}}
		var result types.Worker
		if err := postJSON(edge+"/workers", w, &result); err != nil {
			return err
		}
		fmt.Printf("registered worker %s\n", result.ID)
		return nil
	},
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		var workers []types.Worker
		if err := getJSON(edge+"/workers", &workers); err != nil {
			return err
		}
		for _, w := range workers {
			fmt.Printf("%s\t%s\tbattery=%.0f%%\n", w.ID, w.Status, w.BatteryPercent)
		}
		return nil
	},
}

var workerHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Send a manual heartbeat for a worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		edge, _ := cmd.Flags().GetString("edge")
		id, _ := cmd.Flags().GetString("id")
		battery, _ := cmd.Flags().GetFloat64("battery")

		req := map[string]interface{}{"worker_id": id, "battery_percent": battery}
		var result map[string]string
		if err := postJSON(edge+"/workers/heartbeat", req, &result); err != nil {
			return err
		}
		fmt.Println("heartbeat accepted")
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{workerRegisterCmd, workerListCmd, workerHeartbeatCmd} {
		c.Flags().String("edge", "http://127.0.0.1:9090", "Edge API address")
	}
	workerRegisterCmd.Flags().String("id", "", "Worker ID (generated if empty)")
	workerHeartbeatCmd.Flags().String("id", "", "Worker ID")
	workerHeartbeatCmd.Flags().Float64("battery", 100, "Battery percent")
	_ = workerHeartbeatCmd.MarkFlagRequired("id")

	workerCmd.AddCommand(workerRegisterCmd, workerListCmd, workerHeartbeatCmd)
}

func postJSON(url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func getJSON(url string, out interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("edge API returned %s: %s", resp.Status, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
