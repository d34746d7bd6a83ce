package main

import (
	"fmt"
	"os"

	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a mission manifest",
	Long: `Apply a fleetcore mission manifest from a YAML file.

Examples:
  # Submit a single-worker mission
  fleetcored apply -f mission.yaml

  # Submit against a specific replica
  fleetcored apply -f mission.yaml --edge http://10.0.1.5:9090`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML manifest to apply (required)")
	applyCmd.Flags().String("edge", "http://127.0.0.1:9090", "Edge API address")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// MissionManifest is the on-disk YAML shape for a mission, kept
// deliberately generic so a cluster config file can carry mixed
// resource kinds in the future.
type MissionManifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ManifestMetadata `yaml:"metadata"`
	Spec       MissionSpec      `yaml:"spec"`
}

type ManifestMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type MissionSpec struct {
	MissionKind string            `yaml:"missionKind"`
	Priority    int               `yaml:"priority"`
	Task        string            `yaml:"task"`
	Params      map[string]string `yaml:"params,omitempty"`
	Area        []struct {
		Lat float64 `yaml:"lat"`
		Lon float64 `yaml:"lon"`
		Alt float64 `yaml:"alt"`
	} `yaml:"area,omitempty"`
	Constraints struct {
		MinAltitude         float64 `yaml:"minAltitude"`
		RequiredPayload     string  `yaml:"requiredPayload"`
		MinBattery          float64 `yaml:"minBattery"`
		MaxDistanceFromArea float64 `yaml:"maxDistanceFromArea"`
		WorkerCount         int     `yaml:"workerCount"`
	} `yaml:"constraints"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	edge, _ := cmd.Flags().GetString("edge")

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var manifest MissionManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	switch manifest.Kind {
	case "Mission":
		return applyMission(edge, &manifest)
	default:
		return fmt.Errorf("unsupported manifest kind: %s", manifest.Kind)
	}
}

func applyMission(edge string, manifest *MissionManifest) error {
	spec := manifest.Spec

	area := make([]types.Waypoint, 0, len(spec.Area))
	for _, wp := range spec.Area {
		area = append(area, types.Waypoint{Lat: wp.Lat, Lon: wp.Lon, Alt: wp.Alt})
	}

	m := types.Mission{
		Kind:     types.MissionKind(spec.MissionKind),
		Priority: spec.Priority,
		Payload: types.Payload{
			Task:   spec.Task,
			Params: spec.Params,
			Area:   area,
		},
		Constraints: types.MissionConstraints{
			MinAltitude:         spec.Constraints.MinAltitude,
			RequiredPayload:     spec.Constraints.RequiredPayload,
			MinBattery:          spec.Constraints.MinBattery,
			MaxDistanceFromArea: spec.Constraints.MaxDistanceFromArea,
			WorkerCount:         spec.Constraints.WorkerCount,
		},
	}

	var result types.Mission
	if err := postJSON(edge+"/missions", m, &result); err != nil {
		return fmt.Errorf("failed to submit mission: %v", err)
	}
	fmt.Printf("✓ Mission applied: %s (%s, id=%s)\n", manifest.Metadata.Name, result.Kind, result.ID)
	return nil
}
