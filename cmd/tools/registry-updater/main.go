// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"parking-sticker/internal/common/validation"
	"parking-sticker/pkg/registry"
)

const defaultRegistryPath = "pkg/registry/activity-registry.json"

var registryPath string

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	idAdd := addCmd.String("id", "", "Activity ID (e.g., approve-application)")
	displayName := addCmd.String("displayName", "", "Display Name (e.g., Approve Application)")
	description := addCmd.String("description", "", "Description")
	category := addCmd.String("category", "", "Category (e.g., application, session, data-access)")
	taskType := addCmd.String("taskType", "", "Camunda Task Type (e.g., approve-application)")
	version := addCmd.String("version", "1.0.0", "Version")
	implStatus := addCmd.String("status", "planned", "Implementation Status (planned, in-progress, completed, verified)")
	addCmd.StringVar(&registryPath, "path", defaultRegistryPath, "Path to registry file")

	idUpdate := updateCmd.String("id", "", "Activity ID to update")
	field := updateCmd.String("field", "", "Field to update (status, version, etc.)")
	value := updateCmd.String("value", "", "New value for the field")
	updateCmd.StringVar(&registryPath, "path", defaultRegistryPath, "Path to registry file")

	// An empty path validates the registry compiled into the workers.
	validateCmd.StringVar(&registryPath, "path", "", "Path to registry file (default: embedded registry)")
	listCmd.StringVar(&registryPath, "path", "", "Path to registry file (default: embedded registry)")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *idAdd == "" || *displayName == "" || *description == "" || *category == "" || *taskType == "" {
			fmt.Println("Error: id, displayName, description, category, and taskType are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		if err := validation.ValidateTaskType(*taskType); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		activity := registry.Activity{
			ID:                   *idAdd,
			DisplayName:          *displayName,
			Description:          *description,
			Category:             *category,
			Version:              *version,
			TaskType:             *taskType,
			ImplementationStatus: *implStatus,
			InputSchema:          map[string]interface{}{"type": "object"},
			OutputSchema:         map[string]interface{}{"type": "object"},
			ErrorCodes:           []string{},
			Timeout:              "10s",
			Retries:              3,
			Workflows:            []string{},
			Tags:                 []string{},
		}
		if err := addActivity(&activity); err != nil {
			fmt.Printf("Error adding activity: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added activity: %s\n", *idAdd)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateActivity(*idUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating activity: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated activity %s, field %s to %s\n", *idUpdate, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		reg, err := load(registryPath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if err := validateRegistry(reg); err != nil {
			fmt.Printf("Registry validation failed:\n%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))

	case "list":
		listCmd.Parse(os.Args[2:])
		reg, err := load(registryPath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		listActivities(reg)

	case "help":
		fallthrough
	default:
		help()
	}
}

func load(path string) (*registry.ActivityRegistry, error) {
	if path == "" {
		return registry.Default(), nil
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return reg, nil
}

func addActivity(activity *registry.Activity) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load registry: %w", err)
		}
		reg = &registry.ActivityRegistry{
			Version:    "1.0.0",
			Activities: []registry.Activity{},
		}
	}

	for _, existing := range reg.Activities {
		if existing.ID == activity.ID {
			return fmt.Errorf("activity with ID %s already exists", activity.ID)
		}
		if existing.TaskType == activity.TaskType {
			return fmt.Errorf("task type %s is already served by %s", activity.TaskType, existing.ID)
		}
	}

	reg.Activities = append(reg.Activities, *activity)
	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return saveRegistry(reg, registryPath)
}

func updateActivity(id, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	var activity *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == id {
			activity = &reg.Activities[i]
			break
		}
	}
	if activity == nil {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	if err := applyUpdate(activity, field, value); err != nil {
		return err
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return saveRegistry(reg, registryPath)
}

func applyUpdate(activity *registry.Activity, field, value string) error {
	switch field {
	case "status":
		activity.ImplementationStatus = value
	case "version":
		activity.Version = value
	case "displayName":
		activity.DisplayName = value
	case "description":
		activity.Description = value
	case "category":
		activity.Category = value
	case "taskType":
		if err := validation.ValidateTaskType(value); err != nil {
			return err
		}
		activity.TaskType = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		activity.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		activity.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return nil
}

// validateRegistry reports every problem found rather than stopping at the first.
func validateRegistry(reg *registry.ActivityRegistry) error {
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	var problems []error
	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)

	for _, activity := range reg.Activities {
		if activity.ID == "" {
			problems = append(problems, fmt.Errorf("activity missing required field: ID"))
			continue
		}
		if ids[activity.ID] {
			problems = append(problems, fmt.Errorf("duplicate activity ID: %s", activity.ID))
		}
		ids[activity.ID] = true

		if activity.DisplayName == "" {
			problems = append(problems, fmt.Errorf("activity %s missing required field: DisplayName", activity.ID))
		}
		if activity.Category == "" {
			problems = append(problems, fmt.Errorf("activity %s missing required field: Category", activity.ID))
		}

		if activity.TaskType == "" {
			problems = append(problems, fmt.Errorf("activity %s missing required field: TaskType", activity.ID))
		} else {
			if err := validation.ValidateTaskType(activity.TaskType); err != nil {
				problems = append(problems, fmt.Errorf("activity %s: %w", activity.ID, err))
			}
			if taskTypes[activity.TaskType] {
				problems = append(problems, fmt.Errorf("duplicate task type: %s", activity.TaskType))
			}
			taskTypes[activity.TaskType] = true
		}

		if activity.Timeout != "" {
			if _, err := time.ParseDuration(activity.Timeout); err != nil {
				problems = append(problems, fmt.Errorf("activity %s: invalid timeout %q", activity.ID, activity.Timeout))
			}
		}

		for name, schema := range map[string]map[string]interface{}{
			"inputSchema":  activity.InputSchema,
			"outputSchema": activity.OutputSchema,
		} {
			if len(schema) == 0 {
				problems = append(problems, fmt.Errorf("activity %s missing %s", activity.ID, name))
				continue
			}
			raw, err := json.Marshal(schema)
			if err != nil {
				problems = append(problems, fmt.Errorf("activity %s: encode %s: %w", activity.ID, name, err))
				continue
			}
			if err := validation.CompileSchema(raw); err != nil {
				problems = append(problems, fmt.Errorf("activity %s: %s does not compile: %w", activity.ID, name, err))
			}
		}
	}

	return errors.Join(problems...)
}

func listActivities(reg *registry.ActivityRegistry) {
	activities := append([]registry.Activity(nil), reg.Activities...)
	sort.Slice(activities, func(i, j int) bool {
		if activities[i].Category != activities[j].Category {
			return activities[i].Category < activities[j].Category
		}
		return activities[i].TaskType < activities[j].TaskType
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tTASK TYPE\tSTATUS\tTIMEOUT\tRETRIES")
	for _, a := range activities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", a.Category, a.TaskType, a.ImplementationStatus, a.Timeout, a.Retries)
	}
	w.Flush()
	fmt.Printf("\nRegistry %s, %d activities\n", reg.Version, len(reg.Activities))
}

func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  add       Add a new activity to the registry
  update    Update an existing activity's field
  validate  Validate the registry (embedded by default) and compile every schema
  list      List registered activities
  help      Show this help message

Examples:
  registry-updater add -id revoke-sticker -displayName "Revoke Sticker" -description "Revokes an issued sticker" -category application -taskType revoke-sticker
  registry-updater update -id approve-application -field status -value verified
  registry-updater validate
  registry-updater validate -path pkg/registry/activity-registry.json

Use 'registry-updater <command> -h' for more information about a command.

`)
}
