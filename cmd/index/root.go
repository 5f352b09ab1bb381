package index

import (
	"github.com/ValentinKolb/geoKV/cmd/util"
	"github.com/ValentinKolb/geoKV/lib/common"
	"github.com/ValentinKolb/geoKV/lib/index"
	"github.com/ValentinKolb/geoKV/lib/lockmgr"
	"github.com/ValentinKolb/geoKV/lib/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	conf    *common.IndexConfig
	backend storage.Backend
	sync    lockmgr.Synchronizer

	// idx is bound by openIndex, it stays nil for the init command
	idx *index.Index

	// IndexCommands represents the index command group
	IndexCommands = &cobra.Command{
		Use:               "index",
		Short:             "Create, write and query a spatial index",
		PersistentPreRunE: setupBackend,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// finalizers also run when a hook or RunE fails, post-run hooks do not
	cobra.OnFinalize(closeBackend)

	util.SetupStorageFlags(IndexCommands)

	IndexCommands.AddCommand(initCmd)
	IndexCommands.AddCommand(infoCmd)
	IndexCommands.AddCommand(keysCmd)
	IndexCommands.AddCommand(getCmd)
	IndexCommands.AddCommand(locateCmd)
	IndexCommands.AddCommand(appendCmd)
	IndexCommands.AddCommand(updateCmd)
	IndexCommands.AddCommand(boxCmd)
	IndexCommands.AddCommand(perfCmd)
}

// setupBackend opens the configured backend and synchronizer
func setupBackend(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	conf = util.GetIndexConfig()
	if err := common.InitLoggers(conf.LogLevel); err != nil {
		return err
	}

	var err error
	if backend, err = util.OpenBackend(conf); err != nil {
		return err
	}
	sync = util.GetSynchronizer(conf)
	return nil
}

// openIndex binds idx to the backend, used by every command except init
func openIndex(_ *cobra.Command, _ []string) (err error) {
	idx, err = index.Open(backend, sync)
	return err
}

// closeBackend releases a lock still held and closes the backend. For a
// snapshot this removes its directory.
func closeBackend() {
	if backend == nil {
		return
	}
	var err error
	if sync != nil && sync.Locked() {
		err = multierr.Append(err, sync.Release())
	}
	err = multierr.Append(err, backend.Close())
	backend, idx = nil, nil
	if err != nil {
		log.Errorf("closing %s backend failed: %v", conf.Backend, err)
	}
}
