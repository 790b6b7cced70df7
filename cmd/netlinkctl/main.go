package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/netlinkctl/netlink"
	"github.com/m-lab/netlinkctl/netns"
	"github.com/m-lab/netlinkctl/reconcile"
	"github.com/m-lab/netlinkctl/rtnl"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	configFile = flag.String("config", "", "NetworkConfig file to reconcile against (YAML, or JSON with a .json extension)")
	namespace  = flag.String("netns", "", "Named network namespace to operate in; empty means the current namespace")
	apply      = flag.Bool("apply", false, "Apply the computed diff; the default only prints it")
	purge      = flag.Bool("purge", false, "Also remove observed addresses/routes/qdiscs the config does not list (never links)")
	promPort   = flag.String("prom", "", "Prometheus metrics export address and port; empty disables the endpoint")
)

func main() {
	flag.Parse()
	rtx.Must(flagx.ArgsFromEnv(flag.CommandLine), "Could not get args from env")

	if *configFile == "" {
		fmt.Fprintln(os.Stderr, "usage: netlinkctl -config <file> [-apply] [-purge] [-netns <name>]")
		os.Exit(2)
	}

	if *promPort != "" {
		promSrv := prometheusx.MustStartPrometheus(*promPort)
		defer promSrv.Close()
	}

	cfg, err := reconcile.LoadFile(*configFile)
	rtx.Must(err, "Could not load %s", *configFile)

	spec := netns.Default()
	if *namespace != "" {
		spec = netns.Named(*namespace)
	}

	conn, err := dial(spec)
	rtx.Must(err, "Could not open a route-netlink connection in namespace %s", spec)
	defer conn.Close()

	observed, err := reconcile.Observe(conn)
	rtx.Must(err, "Could not observe kernel state")

	diff := reconcile.Diff(cfg, observed, reconcile.Options{Purge: *purge})
	if diff.IsEmpty() {
		log.Println("No changes needed.")
		return
	}
	fmt.Print(diff.Summary())

	if !*apply {
		log.Printf("%d change(s) pending; rerun with -apply to make them.", diff.ChangeCount())
		return
	}
	rtx.Must(diff.Apply(conn), "Could not apply the diff")
	log.Printf("Applied %d change(s).", diff.ChangeCount())
}

func dial(spec netns.Spec) (*rtnl.Conn, error) {
	if spec.IsDefault() {
		return rtnl.Dial()
	}
	sock, err := netns.OpenSocket(netlink.ProtoRoute, spec)
	if err != nil {
		return nil, err
	}
	return rtnl.FromSocket(sock), nil
}
