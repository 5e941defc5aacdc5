package scene

import (
	"strings"
	"unicode"
)

// Depascalize converts a PascalCase type name to snake_case, e.g.
// "DobotMagician" -> "dobot_magician" and "KinectAzure2" -> "kinect_azure2".
// Runs of capitals are kept together: "URRobot" -> "ur_robot".
func Depascalize(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
