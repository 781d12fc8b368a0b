package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/atcortex/atengine/internal/discovery"
)

func main() {
	timeout := flag.Int("timeout", 5, "Timeout in seconds")
	service := flag.String("service", "_atbridge._tcp", "mDNS service type to browse")
	domain := flag.String("domain", "local.", "mDNS domain to browse")
	flag.Parse()

	fmt.Println("===============================================================")
	fmt.Println(" AT bridge discovery")
	fmt.Println("===============================================================")
	fmt.Printf(" Service : %s.%s\n", *service, *domain)
	fmt.Printf(" Timeout : %d seconds\n", *timeout)
	fmt.Println("---------------------------------------------------------------")

	start := time.Now()
	bridges, err := discovery.DiscoverBridges(*service, *domain, time.Duration(*timeout)*time.Second)
	duration := time.Since(start)

	if err != nil {
		fmt.Fprintf(os.Stderr, "discovery error: %v\n", err)
		os.Exit(1)
	}

	if len(bridges) == 0 {
		fmt.Printf("No bridges found (%s)\n", duration.Truncate(time.Millisecond))
		return
	}

	fmt.Printf("Discovered %d bridge(s) in %s\n", len(bridges), duration.Truncate(time.Millisecond))
	fmt.Println("===============================================================")

	for i, b := range bridges {
		fmt.Printf(" Bridge #%d\n", i+1)
		fmt.Println("---------------------------------------------------------------")
		fmt.Printf(" Instance : %s\n", b.Instance)
		fmt.Printf(" Hostname : %s\n", b.Hostname)
		fmt.Printf(" Port     : %d\n", b.Port)

		fmt.Println(" Addresses:")
		if len(b.Addresses) == 0 {
			fmt.Println("   <none>")
		} else {
			for _, ip := range b.Addresses {
				fmt.Printf("   - %s\n", ip.String())
			}
		}

		fmt.Println(" TXT Records:")
		if len(b.TXT) == 0 {
			fmt.Println("   <none>")
		} else {
			for _, txt := range b.TXT {
				fmt.Printf("   - %s\n", txt)
			}
		}

		fmt.Println(" Connection hints:")
		for _, ip := range b.Addresses {
			if ip.To4() != nil {
				fmt.Printf("   - tcp://%s:%d\n", ip.String(), b.Port)
			} else {
				fmt.Printf("   - tcp://[%s]:%d\n", ip.String(), b.Port)
			}
		}

		fmt.Println("===============================================================")
	}
}
