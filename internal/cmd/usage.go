package cmd

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/codemux/agentauth/internal/credstore"
)

// DoUsage fetches and prints the normalized quota view for every stored
// profile, or only the given provider's profiles when filter is not empty.
func DoUsage(app *App, providerFilter string) {
	var profiles []*credstore.AuthProfile
	if providerFilter != "" {
		descriptor, err := app.Registry.Resolve(providerFilter)
		if err != nil {
			log.Errorf("%v", err)
			return
		}
		profiles = app.Store.ListByProvider(descriptor.ID)
	} else {
		profiles = app.Store.List()
	}
	if len(profiles) == 0 {
		log.Info("No stored profiles. Run --login <provider> first.")
		return
	}

	snapshots := app.Aggregator.FetchAll(context.Background(), profiles, app.Config.UsageTimeout())

	for _, snapshot := range snapshots {
		fmt.Printf("%s (%s)", snapshot.DisplayName, snapshot.ProfileID)
		if snapshot.Plan != "" {
			fmt.Printf(" [%s]", snapshot.Plan)
		}
		fmt.Println()

		if snapshot.Error != "" {
			fmt.Printf("  error: %s\n", snapshot.Error)
		}
		for _, window := range snapshot.Windows {
			line := fmt.Sprintf("  %-12s %5.1f%% used", window.Label, window.UsedPercent)
			if window.ResetAtMillis > 0 {
				line += fmt.Sprintf(", resets %s", time.UnixMilli(window.ResetAtMillis).Local().Format("2006-01-02 15:04"))
			}
			fmt.Println(line)
		}
	}
}
