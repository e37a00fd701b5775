package snapshot

import "rfwatch/internal/model"

// frequencyMHz accepts Hz and, for small values, MHz as reported by some scanners.
func frequencyMHz(freq int64) int64 {
	if freq <= 0 {
		return 0
	}
	if freq < 100000 {
		return freq
	}
	return freq / 1000000
}

func BandOf(freqHz int64) model.Band {
	mhz := frequencyMHz(freqHz)
	switch {
	case mhz >= 2400 && mhz <= 2500:
		return model.Band24GHz
	case mhz >= 4900 && mhz <= 5895:
		return model.Band5GHz
	case mhz >= 5925 && mhz <= 7125:
		return model.Band6GHz
	}
	return model.BandUnknown
}

// Channel maps a center frequency to its 802.11 channel number, 0 if unknown.
func Channel(freqHz int64) int {
	mhz := frequencyMHz(freqHz)
	switch BandOf(freqHz) {
	case model.Band24GHz:
		if mhz == 2484 {
			return 14
		}
		if mhz < 2412 {
			return 0
		}
		return int((mhz - 2407) / 5)
	case model.Band5GHz:
		if mhz < 5000 {
			return int((mhz - 4000) / 5)
		}
		return int((mhz - 5000) / 5)
	case model.Band6GHz:
		if mhz == 5935 {
			return 2
		}
		if mhz < 5955 {
			return 0
		}
		return int((mhz - 5950) / 5)
	}
	return 0
}
