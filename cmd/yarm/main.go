package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/frederic-klein/yarm/internal/artifacts"
	"github.com/frederic-klein/yarm/internal/backend"
	"github.com/frederic-klein/yarm/internal/backend/deb"
	"github.com/frederic-klein/yarm/internal/backend/tarball"
	"github.com/frederic-klein/yarm/internal/backend/yum"
	"github.com/frederic-klein/yarm/internal/backend/zypper"
	"github.com/frederic-klein/yarm/internal/config"
	"github.com/frederic-klein/yarm/internal/mirror"
	"github.com/frederic-klein/yarm/internal/repo"
)

var (
	configPath string
	ecosystem  string
	fromName   string
	toName     string
	osName     string
	pkgName    string
	pkgVersion string
	dryRun     bool
	excludes   []string
	jobName    string
	patterns   []string
	workers    int
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "yarm",
		Short: "Yet Another Repository Manager - promotes packages between release trees",
		Long: "YARM manages deb, yum, zypper and tarball repository trees, " +
			"mirroring built packages from upstream and promoting them between releases.",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/yarm.yaml", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	promoteCmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote packages from one release to the next",
		RunE:  runPromote,
	}
	promoteCmd.Flags().StringVarP(&ecosystem, "ecosystem", "e", "", "Ecosystem to promote (deb, yum, zypper, tarball, installers)")
	promoteCmd.Flags().StringVarP(&fromName, "from", "f", "", "Source release (defaults to the cache)")
	promoteCmd.Flags().StringVarP(&toName, "to", "t", "", "Destination release")
	promoteCmd.Flags().StringVarP(&osName, "os", "o", "", "Restrict to one OS release (e.g. el/7)")
	promoteCmd.Flags().StringVarP(&pkgName, "package", "p", "", "Restrict to one package name")
	promoteCmd.Flags().StringVar(&pkgVersion, "version", "", "Restrict to one version")
	promoteCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Report what would be promoted without copying")
	promoteCmd.Flags().StringArrayVarP(&excludes, "exclude", "x", nil, "Package name patterns to skip")
	must(promoteCmd.MarkFlagRequired("ecosystem"))
	must(promoteCmd.MarkFlagRequired("to"))

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror the upstream build output into the local cache",
		RunE:  runSync,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the packages in a release",
		RunE:  runList,
	}
	listCmd.Flags().StringVarP(&ecosystem, "ecosystem", "e", "", "Ecosystem to list")
	listCmd.Flags().StringVarP(&fromName, "release", "r", repo.CacheReleaseName, "Release to list")
	listCmd.Flags().StringVarP(&osName, "os", "o", "", "Restrict to one OS release")
	listCmd.Flags().StringVarP(&pkgName, "package", "p", "", "Restrict to one package name")
	must(listCmd.MarkFlagRequired("ecosystem"))

	updateCmd := &cobra.Command{
		Use:   "update-metadata",
		Short: "Force metadata regeneration for a release",
		RunE:  runUpdateMetadata,
	}
	updateCmd.Flags().StringVarP(&ecosystem, "ecosystem", "e", "", "Ecosystem to regenerate")
	updateCmd.Flags().StringVarP(&toName, "release", "r", "", "Release to regenerate")
	updateCmd.Flags().StringVarP(&osName, "os", "o", "", "Restrict to one OS release")
	must(updateCmd.MarkFlagRequired("ecosystem"))
	must(updateCmd.MarkFlagRequired("release"))

	fetchCmd := &cobra.Command{
		Use:   "fetch-artifacts",
		Short: "Download build artifacts from Jenkins into the cache",
		RunE:  runFetchArtifacts,
	}
	fetchCmd.Flags().StringVarP(&jobName, "job", "j", "", "Jenkins job name")
	fetchCmd.Flags().StringArrayVarP(&patterns, "pattern", "p", []string{"*"}, "Artifact path glob patterns")
	fetchCmd.Flags().IntVarP(&workers, "workers", "w", 4, "Parallel download workers")
	must(fetchCmd.MarkFlagRequired("job"))

	rootCmd.AddCommand(promoteCmd, syncCmd, listCmd, updateCmd, fetchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

func logf(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

func runPromote(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, ecosystem)
	if err != nil {
		return err
	}

	logf("Promoting %s packages to %s", ecosystem, toName)
	promoted, err := mgr.Promote(cmd.Context(), repo.PromoteOptions{
		From:    fromName,
		To:      toName,
		OS:      osName,
		Name:    pkgName,
		Version: pkgVersion,
		DryRun:  dryRun,
		Exclude: excludes,
	})
	if err != nil {
		return fmt.Errorf("promoting to %s: %w", toName, err)
	}

	for _, pkg := range promoted {
		fmt.Println(pkg)
	}
	logf("%d packages promoted", len(promoted))
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Upstream == "" {
		return fmt.Errorf("no upstream configured in %s", configPath)
	}

	syncer, err := mirror.New(cfg.Upstream, cfg.CacheRoot)
	if err != nil {
		return err
	}
	logf("Mirroring %s into %s", cfg.Upstream, cfg.CacheRoot)
	if err := syncer.Sync(cmd.Context()); err != nil {
		return fmt.Errorf("mirroring cache: %w", err)
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, ecosystem)
	if err != nil {
		return err
	}
	rel, err := mgr.Release(fromName)
	if err != nil {
		return err
	}

	pkgs := rel.Packages(repo.Query{Name: pkgName, OS: osName})
	for _, pkg := range pkgs {
		fmt.Println(pkg)
	}
	return nil
}

func runUpdateMetadata(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	mgr, err := newManager(cfg, ecosystem)
	if err != nil {
		return err
	}
	rel, err := mgr.Release(toName)
	if err != nil {
		return err
	}

	logf("Regenerating %s metadata for %s", ecosystem, toName)
	return rel.UpdateMetadata(cmd.Context(), osName, "", true)
}

func runFetchArtifacts(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Jenkins == "" {
		return fmt.Errorf("no jenkins server configured in %s", configPath)
	}

	client := artifacts.NewClient(cfg.Jenkins, artifacts.WithWorkers(workers))
	urls, err := client.ListArtifacts(cmd.Context(), jobName, patterns)
	if err != nil {
		return fmt.Errorf("listing artifacts of %s: %w", jobName, err)
	}
	logf("%d artifacts match", len(urls))

	destDir := filepath.Join(cfg.CacheRoot, "artifacts", jobName)
	failed := 0
	for _, res := range client.Fetch(cmd.Context(), urls, destDir) {
		if res.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "fetching %s: %v\n", res.URL, res.Err)
			continue
		}
		logf("fetched %s", res.Dest)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d artifacts failed", failed, len(urls))
	}
	return nil
}

// newManager assembles the cache and release matrix for one
// ecosystem from the configured tree roots.
func newManager(cfg *config.Config, eco string) (*repo.Manager, error) {
	own := backend.Ownership{UID: cfg.Ownership.UID, GID: cfg.Ownership.GID}

	switch eco {
	case "deb":
		b := deb.New(cfg.Label, own)
		cache, err := deb.NewCache(filepath.Join(cfg.CacheRoot, "deb"), b)
		if err != nil {
			return nil, err
		}
		codenames := managedOSes(cfg, cache.OperatingSystems())
		releases := make(map[string]*repo.Release)
		for _, name := range cfg.Releases {
			rel, err := deb.NewRelease(name, filepath.Join(cfg.Root, name, "deb"), codenames, nil, b)
			if err != nil {
				return nil, err
			}
			releases[name] = rel
		}
		// Debian package names use dashes where rpm names use
		// underscores; accept either on the command line.
		return repo.NewManager(cache, releases, repo.WithNameNormalizer(func(s string) string {
			return strings.ReplaceAll(s, "_", "-")
		})), nil

	case "yum":
		b := yum.New(own)
		cache, err := yum.NewCache(filepath.Join(cfg.CacheRoot, "rpm"), b)
		if err != nil {
			return nil, err
		}
		oses := make(map[string][]string)
		for _, osName := range managedOSes(cfg, cache.OperatingSystems()) {
			oses[osName] = cache.Architectures(osName)
		}
		releases := make(map[string]*repo.Release)
		for _, name := range cfg.Releases {
			rel, err := yum.NewRelease(name, filepath.Join(cfg.Root, name, "rpm"), osArchDirs(oses), b)
			if err != nil {
				return nil, err
			}
			releases[name] = rel
		}
		return repo.NewManager(cache, releases), nil

	case "zypper":
		b := zypper.New(cfg.Label, own)
		cache, err := zypper.NewCache(filepath.Join(cfg.CacheRoot, "rpm"), b)
		if err != nil {
			return nil, err
		}
		oses := managedOSes(cfg, cache.OperatingSystems())
		releases := make(map[string]*repo.Release)
		for _, name := range cfg.Releases {
			rel, err := zypper.NewRelease(name, filepath.Join(cfg.Root, name, "rpm"), oses, b)
			if err != nil {
				return nil, err
			}
			releases[name] = rel
		}
		return repo.NewManager(cache, releases), nil

	case "tarball":
		b, err := tarball.New("", own)
		if err != nil {
			return nil, err
		}
		return tarballManager(cfg, b, "packages")

	case "installers":
		// Installer trees keep a "latest"-versioned copy of each
		// package's newest build next to the concrete artifacts.
		b, err := tarball.New("", own, tarball.WithLatestAliases())
		if err != nil {
			return nil, err
		}
		return tarballManager(cfg, b, "installers")
	}
	return nil, fmt.Errorf("unknown ecosystem %q", eco)
}

func tarballManager(cfg *config.Config, b *tarball.Backend, tree string) (*repo.Manager, error) {
	cache, err := tarball.NewCache(tree, filepath.Join(cfg.CacheRoot, tree), b)
	if err != nil {
		return nil, err
	}
	releases := make(map[string]*repo.Release)
	for _, name := range cfg.Releases {
		rel, err := tarball.NewRelease(name, tree, filepath.Join(cfg.Root, name, tree), b)
		if err != nil {
			return nil, err
		}
		releases[name] = rel
	}
	// Tarball names use underscores where deb names use dashes.
	return repo.NewManager(cache, releases, repo.WithNameNormalizer(func(s string) string {
		return strings.ReplaceAll(s, "-", "_")
	})), nil
}

// managedOSes filters discovered OS releases through the configured
// include and exclude lists.
func managedOSes(cfg *config.Config, oses []string) []string {
	var out []string
	for _, osName := range oses {
		if cfg.ManagedOS(osName) {
			out = append(out, osName)
		}
	}
	return out
}

// osArchDirs maps the normalized src key back to the SRPMS directory
// name used on disk in yum trees.
func osArchDirs(oses map[string][]string) map[string][]string {
	out := make(map[string][]string, len(oses))
	for osName, arches := range oses {
		dirs := make([]string, 0, len(arches))
		for _, arch := range arches {
			if arch == "src" {
				arch = "SRPMS"
			}
			dirs = append(dirs, arch)
		}
		out[osName] = dirs
	}
	return out
}
