package storage

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

func lowSpaceMessage(t Tier, avail int64) string {
	switch t {
	case Critical:
		return printer.Sprintf("Storage critically low: %d MB free. Export or remove old records soon.", avail/mb)
	default:
		return printer.Sprintf("Storage getting low: %d MB free.", avail/mb)
	}
}

func cleanupMessage(deleted, avail int64) string {
	return printer.Sprintf("Removed %d old records to free space; %d MB now free.", deleted, avail/mb)
}

func insufficientMessage(internalMB int64, extAvailable bool, extMB *int64) string {
	if extAvailable && extMB != nil {
		return printer.Sprintf("Not enough storage: %d MB free internally. External storage has %d MB available; move data there and retry.", internalMB, *extMB)
	}
	return printer.Sprintf("Not enough storage: %d MB free internally and no external storage is mounted. Free up space and retry.", internalMB)
}
