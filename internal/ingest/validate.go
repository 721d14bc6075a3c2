package ingest

import (
	"encoding/json"
)

const (
	FlagTempOutOfRange    = "temp_out_of_range"
	FlagWindDirInvalid    = "wind_dir_invalid"
	FlagWindSpeedNegative = "wind_speed_negative"
	FlagWindSpeedUnlikely = "wind_speed_unlikely"
	FlagPrecipNegative    = "precip_negative"
)

func ValidateReading(r Reading) []string {
	var flags []string

	if r.TempC < -60 || r.TempC > 60 {
		flags = append(flags, FlagTempOutOfRange)
	}

	if r.WindDirDeg < 0 || r.WindDirDeg > 360 {
		flags = append(flags, FlagWindDirInvalid)
	}

	if r.WindSpeedKt < 0 {
		flags = append(flags, FlagWindSpeedNegative)
	} else if r.WindSpeedKt > 200 {
		flags = append(flags, FlagWindSpeedUnlikely)
	}

	if r.PrecipIn < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
