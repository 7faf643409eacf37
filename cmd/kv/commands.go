package kv

import (
	"fmt"
	"github.com/spf13/cobra"
)

var (
	putCmd = &cobra.Command{
		Use:   "put [key] [value]",
		Short: "Sets the value for a key and prints the previous one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			prev, existed, err := adminClient.Put(cmd.Context(), key, []byte(args[1]))
			if err != nil {
				return err
			}
			if existed {
				fmt.Printf("key=%s, replaced=%s\n", key, prev)
			} else {
				fmt.Printf("key=%s, created\n", key)
			}
			return nil
		},
	}
	putIfAbsentCmd = &cobra.Command{
		Use:   "put-if-absent [key] [value]",
		Short: "Sets the value for a key if the key has no value yet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			ok, cur, err := adminClient.PutIfAbsent(cmd.Context(), key, []byte(args[1]))
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("key=%s, created\n", key)
			} else {
				fmt.Printf("key=%s, exists=%s\n", key, cur)
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if resp, ok, err := adminClient.Get(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, found=%v, resp=%s\n", key, ok, resp)
			}
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a key value pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if _, existed, err := adminClient.Delete(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, deleted=%t\n", key, existed)
			}
			return nil
		},
	}
	homeCmd = &cobra.Command{
		Use:   "home [key]",
		Short: "Prints the home node of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if home, err := adminClient.Home(cmd.Context(), key); err != nil {
				return err
			} else {
				fmt.Printf("key=%s, home=%s\n", key, home)
			}
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys",
		Short: "Lists the keys the node holds a value for",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			homeOnly, _ := cmd.Flags().GetBool("home")
			keys, err := adminClient.Keys(cmd.Context(), homeOnly)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(k)
			}
			return nil
		},
	}
)

func init() {
	keysCmd.Flags().Bool("home", false, "Only list keys the node is home of")
}
