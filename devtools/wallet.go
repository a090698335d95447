package main

import (
	"flag"
	"log"
	"strings"

	"github.com/openbuilders/loyalty-checkout/internal/solana"

	"github.com/xssnick/tonutils-go/ton/wallet"
)

// Generates a merchant wallet for local runs, or shows the address of an
// existing mnemonic passed with -mnemonic.
func main() {
	mnemonic := flag.String("mnemonic", "", "existing mnemonic")
	ton := flag.Bool("ton", false, "use a 24 word TON wallet phrase instead of BIP39")
	flag.Parse()

	phrase := strings.Join(strings.Fields(*mnemonic), " ")
	if phrase == "" {
		if *ton {
			phrase = strings.Join(wallet.NewSeed(), " ")
		} else {
			var err error
			if phrase, err = solana.NewMnemonic(); err != nil {
				log.Fatalln("new mnemonic err:", err.Error())
			}
		}
		log.Println("New seed:", phrase)
	}

	var (
		kp  *solana.Keypair
		err error
	)
	if *ton {
		kp, err = solana.KeypairFromTONMnemonic(phrase)
	} else {
		kp, err = solana.KeypairFromMnemonic(phrase, "")
	}
	if err != nil {
		log.Fatalln("derive keypair err:", err.Error())
	}

	log.Println("merchant address:", kp.PublicKey().String())
	log.Println("export MERCHANT_MNEMONIC=\"" + phrase + "\"")
	if *ton {
		log.Println("export MERCHANT_MNEMONIC_FORMAT=ton")
	}

	reference, err := solana.NewReference()
	if err != nil {
		log.Fatalln("reference err:", err.Error())
	}
	log.Println("sample reference:", reference.String())
}
