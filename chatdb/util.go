package chatdb

// AppleEpochOffset is the count of seconds between 1970-01-01 and 2001-01-01.
// chat.db stores message.date as nanoseconds since the latter.
const AppleEpochOffset = 978307200

// dateConversionExpr converts message.date to Unix seconds inside the query,
// keeping sub-second precision.
const dateConversionExpr = "message.date / 1000000000.0 + 978307200"

// unixToAppleNS converts a Unix timestamp to chat.db native nanoseconds,
// truncating toward zero. Used to push `since` filters down to the raw column.
func unixToAppleNS(sec float64) int64 {
	return int64((sec - AppleEpochOffset) * 1e9)
}

// appleNSToUnix is the inverse of unixToAppleNS.
func appleNSToUnix(ns int64) float64 {
	return float64(ns)/1e9 + AppleEpochOffset
}
