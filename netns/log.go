package netns

import "log"

func defaultLogRestoreFailure(err error) {
	log.Printf("netns: %v", err)
}
