package redisstream

import "fmt"

const runsIndexKey = "dockrion:runs:index"

func streamKey(runID string) string {
	return fmt.Sprintf("dockrion:stream:%s", runID)
}

func runKey(runID string) string {
	return fmt.Sprintf("dockrion:run:%s", runID)
}
