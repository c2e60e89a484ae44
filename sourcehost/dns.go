package sourcehost

import (
	"context"
	"fmt"

	"github.com/miekg/dns"
)

// resolveHost checks that a hostname has at least one A record, querying
// the system resolver directly. The reachability probe runs it before the
// HTTP request so that DNS failures are reported distinctly from HTTP
// failures.
func resolveHost(ctx context.Context, host string) error {
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return fmt.Errorf("failed to load resolver configuration: %w", err)
	}
	if len(conf.Servers) == 0 {
		return fmt.Errorf("no DNS servers configured")
	}

	m := new(dns.Msg)
	m.Id = dns.Id()
	m.RecursionDesired = true
	m.Question = []dns.Question{{
		Name:   dns.Fqdn(host),
		Qtype:  dns.TypeA,
		Qclass: dns.ClassINET,
	}}

	client := new(dns.Client)
	for _, server := range conf.Servers {
		in, _, err := client.ExchangeContext(ctx, m, server+":"+conf.Port)
		if err != nil {
			continue
		}
		if in.Rcode == dns.RcodeSuccess && len(in.Answer) > 0 {
			return nil
		}
	}

	return fmt.Errorf("no A records for %s", host)
}
