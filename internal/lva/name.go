package lva

import "fmt"

// GenerateName scans vg's existing LV names for the pattern lvol<N> and
// returns lvol<largest N + 1>, or lvol0 if none match (§4.5 "Name
// generation").
func GenerateName(vg *VolumeGroup) string {
	next := 0
	for _, lv := range vg.LVs {
		n, ok := parseLvolSuffix(lv.Name)
		if ok && n+1 > next {
			next = n + 1
		}
	}
	return fmt.Sprintf("lvol%d", next)
}

// parseLvolSuffix reports the N in "lvol<N>" when name is "lvol"
// followed by one or more decimal digits. Leading zeros are accepted:
// "lvol07" yields 7.
func parseLvolSuffix(name string) (int, bool) {
	const prefix = "lvol"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	suffix := name[len(prefix):]
	n := 0
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}
