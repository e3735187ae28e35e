package telegram

import "net"

// Published source ranges for Bot API webhook deliveries.
var webhookCIDRs = []string{
	"149.154.160.0/20",
	"91.108.4.0/22",
}

var webhookNets []*net.IPNet

func init() {
	for _, cidr := range webhookCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("telegram: invalid webhook CIDR " + cidr)
		}
		webhookNets = append(webhookNets, ipNet)
	}
}

// IsWebhookSourceIP reports whether ip falls in Telegram's published
// webhook source ranges. Unparseable input is never trusted.
func IsWebhookSourceIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range webhookNets {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}
