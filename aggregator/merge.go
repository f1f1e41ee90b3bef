package aggregator

import "sarkari-pulse/models"

// fillEmpty copies fields from src into dst where dst has nothing.
// The nationwide default state counts as nothing so a later, more
// specific state can replace it.
func fillEmpty(dst *models.SchemeRecord, src models.SchemeRecord) {
	fill := func(d *string, s string) {
		if *d == "" {
			*d = s
		}
	}
	fill(&dst.Description, src.Description)
	fill(&dst.Ministry, src.Ministry)
	fill(&dst.Department, src.Department)
	fill(&dst.TargetAudience, src.TargetAudience)
	fill(&dst.Sector, src.Sector)
	fill(&dst.Tags, src.Tags)
	fill(&dst.Level, src.Level)
	fill(&dst.SourceURL, src.SourceURL)

	if dst.BeneficiaryState == "" || (dst.BeneficiaryState == models.DefaultBeneficiaryState && src.BeneficiaryState != "") {
		dst.BeneficiaryState = src.BeneficiaryState
	}
	if dst.LaunchDate == nil {
		dst.LaunchDate = src.LaunchDate
	}
	if dst.GeneratedID && !src.GeneratedID && src.SchemeID != "" {
		dst.SchemeID = src.SchemeID
		dst.GeneratedID = false
	}
}
