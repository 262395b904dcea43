package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const banner = `
  _                    ____    _    
 (_)_ __ ___  _ __    / ___|  / \   
 | | '__/ _ \| '_ \  | |     / _ \  
 | | | | (_) | | | | | |___ / ___ \ 
 |_|_|  \___/|_| |_|  \____/_/   \_\
`

func printBanner(cmd *cobra.Command) {
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "\x1b[34m%s\x1b[0m", banner)
	fmt.Fprintf(out, "\x1b[32m  Certificate Authority - Version %s\x1b[0m\n\n", Version)
}
